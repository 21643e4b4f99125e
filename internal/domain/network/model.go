package network

import (
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Stats is the process-wide aggregate the rate model feeds on. It is
// recomputed on a fixed interval for as long as the process runs.
type Stats struct {
	ActiveSessions int
	TotalSettled   asset.Amount
	ComputedAt     time.Time
}
