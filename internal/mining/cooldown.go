package mining

import (
	"context"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// DefaultCooldown is the minimum idle interval between a completed session
// and the next start.
const DefaultCooldown = 30 * time.Minute

// CooldownGuard blocks rapid session cycling. It is deliberately permissive:
// if the user's history cannot be read, starting wins over the anti-abuse
// check.
type CooldownGuard struct {
	sessions storage.SessionStore
	cooldown time.Duration
	now      func() time.Time
	log      *logger.Logger
}

// NewCooldownGuard creates a guard with the given minimum idle interval.
// A non-positive cooldown falls back to DefaultCooldown.
func NewCooldownGuard(sessions storage.SessionStore, cooldown time.Duration, log *logger.Logger) *CooldownGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if log == nil {
		log = logger.NewDefault("cooldown")
	}
	return &CooldownGuard{
		sessions: sessions,
		cooldown: cooldown,
		now:      time.Now,
		log:      log,
	}
}

// AssertCanStart returns nil when the user may start a session, or a
// *CooldownError with the remaining wait rounded up to the next minute.
func (g *CooldownGuard) AssertCanStart(ctx context.Context, userID string) error {
	recent, err := g.sessions.GetRecentCompletedSessions(ctx, userID, 1)
	if err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("cooldown lookup failed, allowing start")
		return nil
	}
	if len(recent) == 0 || recent[0].EndTime == nil {
		return nil
	}

	idle := g.now().Sub(*recent[0].EndTime)
	if idle >= g.cooldown {
		return nil
	}

	remaining := g.cooldown - idle
	rounded := remaining.Truncate(time.Minute)
	if rounded < remaining {
		rounded += time.Minute
	}
	return &CooldownError{Remaining: rounded}
}
