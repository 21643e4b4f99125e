package session

import (
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Session is one accrual session. A user has at most one active session at
// any time; once Active is false the row is immutable.
type Session struct {
	ID        string
	UserID    string
	StartTime time.Time
	EndTime   *time.Time
	Rate      asset.Amount // value units per hour, fixed at start
	Active    bool
	// TotalEarned is the cumulative amount already reserved for settlement
	// on this session. It only grows.
	TotalEarned asset.Amount
	// Checkpoints is the number of reward checkpoints already claimed.
	// Stored explicitly rather than derived from TotalEarned/Rate so
	// rounding can never drift the claimed count.
	Checkpoints int64
	Progress    float64 // 0-100, informational
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Elapsed returns the session's wall-clock duration at the given instant,
// or the final duration once stopped.
func (s Session) Elapsed(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Earned returns the theoretical earnings for the elapsed duration at the
// session rate, rounded to ledger granularity.
func (s Session) Earned(now time.Time) asset.Amount {
	return s.Rate.MulHours(s.Elapsed(now).Hours())
}

// Status is the caller-facing view of a user's session state.
type Status struct {
	Active           bool
	Session          *Session
	Progress         float64
	CurrentEarnings  asset.Amount
	NextCheckpointIn time.Duration
}
