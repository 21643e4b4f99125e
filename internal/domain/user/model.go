package user

import "time"

// User represents a participant in the accrual program.
type User struct {
	ID            string
	Level         int
	ReferredBy    string // ID of the referring user, empty when none
	ReferralCount int
	LedgerAddress string // recipient address on the settlement network
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
