package mining

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/metrics"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Accountant settles elapsed reward checkpoints for active sessions. It
// shares the manager's per-user locks: a claim reserves its delta on the
// session row under the lock and only then performs the external call, so
// two concurrent claims can never pay the same checkpoint twice.
type Accountant struct {
	cfg         Config
	store       storage.Store
	settler     Settler
	progression *LevelProgression
	locks       *userLocks
	now         func() time.Time
	log         *logger.Logger
}

// NewAccountant creates a claim accountant sharing the manager's locks.
func NewAccountant(manager *Manager, settler Settler, progression *LevelProgression, log *logger.Logger) *Accountant {
	if log == nil {
		log = logger.NewDefault("claims")
	}
	return &Accountant{
		cfg:         manager.cfg,
		store:       manager.store,
		settler:     settler,
		progression: progression,
		locks:       manager.locks,
		now:         manager.now,
		log:         log,
	}
}

// Claim pays out every checkpoint that has elapsed since the last claim.
// The claimed count is tracked as an integer on the session row; it is
// never re-derived from TotalEarned/Rate, so rounding cannot drift it.
func (a *Accountant) Claim(ctx context.Context, userID string) (asset.Amount, error) {
	unlock := a.locks.lock(userID)

	sess, err := a.store.GetActiveSession(ctx, userID)
	if err != nil {
		unlock()
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrNoActiveSession
		}
		return 0, fmt.Errorf("look up active session: %w", err)
	}

	possible := int64(sess.Elapsed(a.now().UTC()) / a.cfg.CheckpointInterval)
	unclaimed := possible - sess.Checkpoints
	if unclaimed <= 0 {
		unlock()
		metrics.ClaimRejected()
		return 0, ErrNothingToClaim
	}

	// Each checkpoint pays the hourly rate prorated to the checkpoint
	// interval, so the sum of claims never outruns elapsed-time earnings.
	amount := sess.Rate.MulHours(a.cfg.CheckpointInterval.Hours() * float64(unclaimed))
	sess.Checkpoints = possible
	sess.TotalEarned += amount

	sess, err = a.store.UpdateSession(ctx, sess)
	if err != nil {
		unlock()
		return 0, fmt.Errorf("reserve claim: %w", err)
	}
	// Reservation committed; settle outside the lock.
	unlock()

	metrics.ClaimAccepted()
	a.log.WithFields(map[string]interface{}{
		"user_id":     userID,
		"session":     sess.ID,
		"checkpoints": unclaimed,
		"amount":      amount.String(),
	}).Info("claim reserved")

	if a.settler != nil {
		rec, err := a.settler.Settle(ctx, userID, sess.ID, amount)
		if err != nil {
			metrics.SettlementFailed()
			a.log.WithError(err).WithField("user_id", userID).
				Warn("claim settlement failed, reservation kept for reconciliation")
			return amount, nil
		}
		metrics.SettlementSubmitted(rec.ExternalRef != "")
		if a.progression != nil {
			if total, err := a.store.SumSettledByUser(ctx, userID); err == nil {
				a.progression.OnSettlement(ctx, userID, total)
			}
		}
	}
	return amount, nil
}
