package settlement

import (
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Status of a settlement record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record tracks one attempt to convert accrued value into holdings on the
// settlement network. A record is created before submission and promoted to
// completed once the external reference is known. Ambiguity (funds moved
// but no reference recovered) keeps the record pending for the reconciler.
type Record struct {
	ID          string
	UserID      string
	SessionID   string
	Amount      asset.Amount
	ExternalRef string // claimable-unit identifier, empty until confirmed
	TxRef       string // submission transaction identifier, when known
	Status      Status
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Wallet is a cached snapshot of a user's external holdings. The ledger is
// authoritative; this only avoids hammering it on every read.
type Wallet struct {
	UserID      string
	Address     string
	Balance     asset.Amount
	RefreshedAt time.Time
}
