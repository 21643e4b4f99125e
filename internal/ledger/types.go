package ledger

import (
	"context"
	"encoding/json"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
)

// Asset identifies a token on the settlement network.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer"`
}

// Effect is one side effect recorded for a submitted transaction.
type Effect struct {
	Type    string `json:"type"`
	Ref     string `json:"ref"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// EffectClaimCreated marks the creation of a claimable unit.
const EffectClaimCreated = "claimable_unit_created"

// SubmitResult is everything the network returns for a submission. Effects
// and ResultPayload are both best-effort: either may be empty depending on
// how much the node materialised at response time.
type SubmitResult struct {
	TxRef         string          `json:"tx_ref"`
	Effects       []Effect        `json:"effects"`
	ResultPayload json.RawMessage `json:"result"`
}

// Account is the network's view of a recipient account.
type Account struct {
	Address        string   `json:"address"`
	Balance        string   `json:"balance"`
	AuthorizedFor  []Asset  `json:"authorized_for"`
	AssetBalances  []string `json:"asset_balances"`
	SequenceNumber int64    `json:"sequence"`
}

// Authorized reports whether the account holds the authorization record
// required before it can receive the asset.
func (a Account) Authorized(want Asset) bool {
	for _, have := range a.AuthorizedFor {
		if have.Code == want.Code && have.Issuer == want.Issuer {
			return true
		}
	}
	return false
}

// API is the settlement network surface this system consumes. The network
// itself is an external collaborator; nothing here reimplements a ledger.
type API interface {
	// AccountExists reports whether the address is funded on the network.
	AccountExists(ctx context.Context, address string) (bool, error)

	// GetAccount returns the account record, including its authorization
	// records.
	GetAccount(ctx context.Context, address string) (Account, error)

	// CreateAccountWithAuthorization funds the account with the minimum
	// reserve and establishes the asset authorization record in one
	// atomic submission.
	CreateAccountWithAuthorization(ctx context.Context, address string, a Asset, reserve asset.Amount) (string, error)

	// CreateAuthorization establishes the asset authorization record on
	// an existing account.
	CreateAuthorization(ctx context.Context, address string, a Asset) (string, error)

	// CreateClaimableUnit issues a claim addressed to the recipient. The
	// recipient account does not need to be ready to receive it.
	CreateClaimableUnit(ctx context.Context, recipient string, a Asset, amount asset.Amount) (SubmitResult, error)

	// EffectsByTransaction re-queries the effect history for a past
	// submission.
	EffectsByTransaction(ctx context.Context, txRef string) ([]Effect, error)

	// AssetBalance returns the recipient's confirmed holdings of the
	// asset.
	AssetBalance(ctx context.Context, address string, a Asset) (asset.Amount, error)
}
