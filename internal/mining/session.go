// Package mining implements the accrual session engine: session lifecycle,
// the dynamic rate model, checkpoint claims and level progression. External
// settlement is delegated through the Settler interface so accrual
// bookkeeping stays monotonic regardless of ledger availability.
package mining

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/metrics"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Default engine intervals.
const (
	DefaultCheckpointInterval = time.Hour
	DefaultMaxSessionDuration = 24 * time.Hour
	DefaultActivityWindow     = 7 * 24 * time.Hour

	// recentSessionLookback bounds the history read used for the
	// activity bonus.
	recentSessionLookback = 20
)

// Settler converts a reserved accrual delta into holdings on the external
// ledger. Implementations must be safe to retry; the engine never rolls a
// reservation back when settlement fails.
type Settler interface {
	Settle(ctx context.Context, userID, sessionID string, amount asset.Amount) (settlement.Record, error)
}

// StatsSource exposes the network aggregate the rate model feeds on and a
// trigger for an asynchronous refresh.
type StatsSource interface {
	ActiveCount() int
	Kick()
}

// Config tunes the session engine. Zero values fall back to the defaults.
type Config struct {
	Cooldown           time.Duration
	CheckpointInterval time.Duration
	MaxSessionDuration time.Duration
	ActivityWindow     time.Duration
}

func (c *Config) normalize() {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = DefaultMaxSessionDuration
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = DefaultActivityWindow
	}
}

// Manager owns the per-user session state machine: NoSession -> Active ->
// Stopped. At most one active session exists per user at any time.
type Manager struct {
	cfg         Config
	store       storage.Store
	guard       *CooldownGuard
	stats       StatsSource
	settler     Settler
	progression *LevelProgression
	locks       *userLocks
	now         func() time.Time
	log         *logger.Logger
}

// NewManager wires the session engine. stats, settler and progression may be
// nil in tests; the corresponding side effects are skipped.
func NewManager(cfg Config, store storage.Store, guard *CooldownGuard, stats StatsSource, settler Settler, progression *LevelProgression, log *logger.Logger) *Manager {
	cfg.normalize()
	if guard == nil {
		guard = NewCooldownGuard(store, cfg.Cooldown, log)
	}
	if log == nil {
		log = logger.NewDefault("mining")
	}
	return &Manager{
		cfg:         cfg,
		store:       store,
		guard:       guard,
		stats:       stats,
		settler:     settler,
		progression: progression,
		locks:       newUserLocks(),
		now:         time.Now,
		log:         log,
	}
}

// Locks exposes the per-user serialization so the claim accountant can share
// it. Claim and stop for the same user must never interleave.
func (m *Manager) Locks() *userLocks { return m.locks }

// Start begins a new accrual session for the user. If one is already active
// it is returned unchanged together with ErrSessionActive, so a repeated
// start never creates a duplicate.
func (m *Manager) Start(ctx context.Context, userID string) (session.Session, error) {
	unlock := m.locks.lock(userID)
	defer unlock()

	existing, err := m.store.GetActiveSession(ctx, userID)
	if err == nil {
		return existing, ErrSessionActive
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, fmt.Errorf("look up active session: %w", err)
	}

	if err := m.guard.AssertCanStart(ctx, userID); err != nil {
		return session.Session{}, err
	}

	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return session.Session{}, fmt.Errorf("look up user %s: %w", userID, err)
	}

	activeCount := 0
	if m.stats != nil {
		activeCount = m.stats.ActiveCount()
	}
	rate := ComputeRate(u.Level, activeCount, u.ReferralCount, m.recentActivity(ctx, userID))

	sess, err := m.store.CreateSession(ctx, session.Session{
		UserID:    userID,
		StartTime: m.now().UTC(),
		Rate:      rate,
		Active:    true,
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}

	metrics.SessionStarted()
	if m.stats != nil {
		m.stats.Kick()
	}
	m.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"session": sess.ID,
		"rate":    rate.String(),
	}).Info("session started")
	return sess, nil
}

// Stop ends the user's active session, reconciles the amount still owed and
// hands it to the settler. A settlement failure is logged and swallowed; the
// stop itself never rolls back.
func (m *Manager) Stop(ctx context.Context, userID string) (session.Session, error) {
	unlock := m.locks.lock(userID)

	sess, err := m.store.GetActiveSession(ctx, userID)
	if err != nil {
		unlock()
		if errors.Is(err, storage.ErrNotFound) {
			return session.Session{}, ErrNoActiveSession
		}
		return session.Session{}, fmt.Errorf("look up active session: %w", err)
	}

	now := m.now().UTC()
	earned := sess.Earned(now)
	owed := earned - sess.TotalEarned
	if owed < 0 {
		owed = 0
	}

	sess.Active = false
	sess.EndTime = &now
	sess.TotalEarned = earned
	sess.Progress = m.progress(sess.Elapsed(now))

	sess, err = m.store.UpdateSession(ctx, sess)
	if err != nil {
		unlock()
		return session.Session{}, fmt.Errorf("stop session: %w", err)
	}
	// The owed delta is now reserved on the session row; the external call
	// happens outside the lock.
	unlock()

	metrics.SessionStopped()
	if owed > 0 {
		m.settle(ctx, userID, sess.ID, owed)
	}
	if m.stats != nil {
		m.stats.Kick()
	}
	m.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"session": sess.ID,
		"earned":  earned.String(),
		"owed":    owed.String(),
	}).Info("session stopped")
	return sess, nil
}

// Status reports the user's current session state. An inactive user is a
// regular result, not an error.
func (m *Manager) Status(ctx context.Context, userID string) (session.Status, error) {
	sess, err := m.store.GetActiveSession(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return session.Status{Active: false}, nil
		}
		return session.Status{}, fmt.Errorf("look up active session: %w", err)
	}

	now := m.now().UTC()
	elapsed := sess.Elapsed(now)

	next := m.cfg.CheckpointInterval - elapsed%m.cfg.CheckpointInterval
	return session.Status{
		Active:           true,
		Session:          &sess,
		Progress:         m.progress(elapsed),
		CurrentEarnings:  sess.Earned(now),
		NextCheckpointIn: next,
	}, nil
}

func (m *Manager) progress(elapsed time.Duration) float64 {
	p := elapsed.Hours() / m.cfg.MaxSessionDuration.Hours() * 100
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	return p
}

func (m *Manager) recentActivity(ctx context.Context, userID string) int {
	recent, err := m.store.GetRecentCompletedSessions(ctx, userID, recentSessionLookback)
	if err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("recent activity lookup failed")
		return 0
	}
	cutoff := m.now().Add(-m.cfg.ActivityWindow)
	count := 0
	for _, s := range recent {
		if s.EndTime != nil && s.EndTime.After(cutoff) {
			count++
		}
	}
	return count
}

// settle hands a reserved delta to the settlement client. Errors are logged,
// never propagated: the reservation stays on the session row and the
// reconciler owns the retry.
func (m *Manager) settle(ctx context.Context, userID, sessionID string, amount asset.Amount) {
	if m.settler == nil {
		return
	}
	rec, err := m.settler.Settle(ctx, userID, sessionID, amount)
	if err != nil {
		metrics.SettlementFailed()
		m.log.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"session": sessionID,
			"amount":  amount.String(),
		}).Warn("settlement failed, reservation kept for reconciliation")
		return
	}
	metrics.SettlementSubmitted(rec.Status == settlement.StatusCompleted)
	if m.progression != nil {
		if total, err := m.store.SumSettledByUser(ctx, userID); err == nil {
			m.progression.OnSettlement(ctx, userID, total)
		}
	}
}
