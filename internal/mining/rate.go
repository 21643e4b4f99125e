package mining

import (
	"math"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Rate model constants. Rates are value units per hour.
const (
	// BaseRate is the level-1 hourly rate.
	BaseRate = 0.25

	// LevelGrowth compounds the base rate per level above 1.
	LevelGrowth = 1.1

	// NetworkBonusMax caps the early-participant multiplier.
	NetworkBonusMax = 2.0
	// NetworkBonusMin is the floor once the network has grown.
	NetworkBonusMin = 1.0
	// networkBonusScale controls how fast the bonus decays with the
	// number of concurrently active sessions.
	networkBonusScale = 100.0

	// ReferralBonusPer is the additive bonus per referral.
	ReferralBonusPer = 0.01
	// ReferralBonusCap caps the total referral bonus.
	ReferralBonusCap = 0.50

	// ActivityBonus is granted when the user completed at least
	// ActivitySessionsRequired sessions inside the activity window.
	ActivityBonus            = 0.20
	ActivitySessionsRequired = 3
)

// ComputeRate returns the effective hourly accrual rate for a user.
// It is a pure function of its inputs so results are reproducible.
func ComputeRate(level, networkActiveCount, referralCount, recentActivityCount int) asset.Amount {
	if level < 1 {
		level = 1
	}
	base := BaseRate * math.Pow(LevelGrowth, float64(level-1))

	rate := base *
		NetworkMultiplier(networkActiveCount) *
		(1 + ReferralBonus(referralCount)) *
		(1 + activityBonus(recentActivityCount))

	return asset.FromFloat(rate)
}

// NetworkMultiplier rewards early participants: it starts at NetworkBonusMax
// on an empty network, decays smoothly as more sessions run concurrently,
// and never drops below NetworkBonusMin.
func NetworkMultiplier(activeCount int) float64 {
	if activeCount < 0 {
		activeCount = 0
	}
	m := NetworkBonusMax * networkBonusScale / (float64(activeCount) + networkBonusScale)
	if m > NetworkBonusMax {
		m = NetworkBonusMax
	}
	if m < NetworkBonusMin {
		m = NetworkBonusMin
	}
	return m
}

// ReferralBonus is the additive bonus fraction for a referral count.
func ReferralBonus(referralCount int) float64 {
	if referralCount < 0 {
		referralCount = 0
	}
	bonus := ReferralBonusPer * float64(referralCount)
	if bonus > ReferralBonusCap {
		bonus = ReferralBonusCap
	}
	return bonus
}

func activityBonus(recentActivityCount int) float64 {
	if recentActivityCount >= ActivitySessionsRequired {
		return ActivityBonus
	}
	return 0
}
