package mining

import (
	"context"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/metrics"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Level progression defaults.
const (
	// DefaultLevelThreshold is the cumulative settled amount per level.
	DefaultLevelThreshold = 100

	// DefaultLevelBonus is the flat bonus granted per level gained.
	DefaultLevelBonus = 1
)

// LevelProgression raises a user's level as cumulative settled value grows.
// A failed level-up is logged and dropped; it must never block settlement.
type LevelProgression struct {
	users     storage.UserStore
	settler   Settler
	threshold asset.Amount
	bonus     asset.Amount
	log       *logger.Logger
}

// NewLevelProgression creates the progression hook. settler may be nil, in
// which case level-up bonuses are skipped.
func NewLevelProgression(users storage.UserStore, settler Settler, log *logger.Logger) *LevelProgression {
	if log == nil {
		log = logger.NewDefault("progression")
	}
	return &LevelProgression{
		users:     users,
		settler:   settler,
		threshold: asset.FromFloat(DefaultLevelThreshold),
		bonus:     asset.FromFloat(DefaultLevelBonus),
		log:       log,
	}
}

// OnSettlement checks the cumulative settled total against the level
// thresholds and applies any level-up.
func (p *LevelProgression) OnSettlement(ctx context.Context, userID string, cumulative asset.Amount) {
	newLevel := int(cumulative/p.threshold) + 1

	u, err := p.users.GetUser(ctx, userID)
	if err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("level check failed")
		return
	}
	if newLevel <= u.Level {
		return
	}

	gained := newLevel - u.Level
	if err := p.users.UpdateUserLevel(ctx, userID, newLevel); err != nil {
		p.log.WithError(err).WithField("user_id", userID).Warn("level update failed")
		return
	}
	metrics.LevelUp(gained)
	p.log.WithFields(map[string]interface{}{
		"user_id": userID,
		"level":   newLevel,
		"gained":  gained,
	}).Info("level up")

	if p.settler != nil {
		bonus := p.bonus.MulInt(int64(gained))
		if _, err := p.settler.Settle(ctx, userID, "", bonus); err != nil {
			p.log.WithError(err).WithField("user_id", userID).Warn("level bonus settlement failed")
		}
	}
}
