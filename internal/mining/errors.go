package mining

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionActive is returned by Start when the user already has an
	// active session. The existing session is returned alongside it.
	ErrSessionActive = errors.New("session already active")

	// ErrNoActiveSession is returned by Stop and Claim when the user has
	// no active session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNothingToClaim is returned by Claim when no checkpoint has
	// elapsed since the last claim.
	ErrNothingToClaim = errors.New("nothing to claim")

	// ErrSettlementUnavailable wraps transient settlement-network
	// failures. Local accounting is never rolled back because of it.
	ErrSettlementUnavailable = errors.New("settlement unavailable")
)

// CooldownError is returned by Start while the post-session cooldown is
// still running.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %s remaining", e.Remaining)
}
