// Package settlement orchestrates idempotent issuance against the external
// settlement network and reconciles the records it leaves behind.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	domain "github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/ledger"
	"github.com/Meridian-Network/mining_layer/internal/mining"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// Defaults for the external-call budget.
const (
	DefaultCallTimeout      = 15 * time.Second
	DefaultPropagationDelay = 2 * time.Second
	DefaultMinimumReserve   = 1.0
)

// resultPayloadPaths are probed, in order, when decoding the low-level
// submission result for the created claim's identifier.
var resultPayloadPaths = []string{
	"claim_ref",
	"created_claims.0.id",
	"operations.0.claim_ref",
}

// Client settles reserved accrual deltas on the external network. Every step
// is idempotent: re-running a settlement at worst produces an extra claim
// the recipient can fully claim, never a local double-count.
type Client struct {
	store       storage.Store
	net         ledger.API
	asset       ledger.Asset
	reserve     asset.Amount
	timeout     time.Duration
	propagation time.Duration
	sleep       func(context.Context, time.Duration)
	log         *logger.Logger
}

var _ mining.Settler = (*Client)(nil)

// Option tunes the client.
type Option func(*Client)

// WithCallTimeout bounds each external network call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPropagationDelay sets the wait before history re-queries.
func WithPropagationDelay(d time.Duration) Option {
	return func(c *Client) { c.propagation = d }
}

// WithMinimumReserve sets the funding reserve for new accounts.
func WithMinimumReserve(a asset.Amount) Option {
	return func(c *Client) { c.reserve = a }
}

// New creates a settlement client for one issued asset.
func New(store storage.Store, net ledger.API, issued ledger.Asset, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	c := &Client{
		store:       store,
		net:         net,
		asset:       issued,
		reserve:     asset.FromFloat(DefaultMinimumReserve),
		timeout:     DefaultCallTimeout,
		propagation: DefaultPropagationDelay,
		sleep:       sleepCtx,
		log:         log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Settle issues the amount to the user on the external network. The record
// is created pending before submission; a hard failure leaves it pending
// with the error noted so the reconciler retries it, and is reported as
// ErrSettlementUnavailable. An unrecoverable reference after a successful
// submission is an ambiguity, not an error: the record stays pending with
// its transaction reference and the reconciler resolves it later.
func (c *Client) Settle(ctx context.Context, userID, sessionID string, amount asset.Amount) (domain.Record, error) {
	rec, err := c.store.CreateSettlement(ctx, domain.Record{
		UserID:    userID,
		SessionID: sessionID,
		Amount:    amount,
		Status:    domain.StatusPending,
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("create settlement record: %w", err)
	}
	return c.Submit(ctx, rec)
}

// Submit runs the settlement protocol for an existing record. Safe to call
// again for a record whose earlier submission failed.
func (c *Client) Submit(ctx context.Context, rec domain.Record) (domain.Record, error) {
	u, err := c.store.GetUser(ctx, rec.UserID)
	if err != nil {
		return c.noteFailure(ctx, rec, fmt.Errorf("look up user %s: %w", rec.UserID, err))
	}
	if u.LedgerAddress == "" {
		return c.noteFailure(ctx, rec, fmt.Errorf("user %s has no ledger address", rec.UserID))
	}

	if err := c.ensureRecipient(ctx, u.LedgerAddress); err != nil {
		return c.noteFailure(ctx, rec, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	result, err := c.net.CreateClaimableUnit(callCtx, u.LedgerAddress, c.asset, rec.Amount)
	cancel()
	if err != nil {
		return c.noteFailure(ctx, rec, fmt.Errorf("create claimable unit: %w", err))
	}

	rec.TxRef = result.TxRef
	rec.Attempts++
	rec.LastError = ""

	if ref := c.recoverReference(ctx, result); ref != "" {
		rec.ExternalRef = ref
		rec.Status = domain.StatusCompleted
	} else {
		// Funds provably moved; only the confirmation is unresolved.
		c.log.WithFields(map[string]interface{}{
			"settlement": rec.ID,
			"tx_ref":     rec.TxRef,
		}).Warn("claim reference unrecovered, leaving settlement pending")
	}

	updated, err := c.store.UpdateSettlement(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("update settlement record: %w", err)
	}
	return updated, nil
}

// RecoverReference re-queries the effect history for a past submission and
// returns the claim reference, if the network has materialised it.
func (c *Client) RecoverReference(ctx context.Context, txRef string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	effects, err := c.net.EffectsByTransaction(callCtx, txRef)
	if err != nil {
		return "", err
	}
	return refFromEffects(effects), nil
}

// ensureRecipient makes the recipient account able to receive the issued
// asset: create it funded with the minimum reserve and authorized in one
// submission, or add the missing authorization record to an existing one.
func (c *Client) ensureRecipient(ctx context.Context, address string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	exists, err := c.net.AccountExists(callCtx, address)
	cancel()
	if err != nil {
		return fmt.Errorf("check account %s: %w", address, err)
	}

	if !exists {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		_, err := c.net.CreateAccountWithAuthorization(callCtx, address, c.asset, c.reserve)
		cancel()
		if err != nil {
			return fmt.Errorf("create account %s: %w", address, err)
		}
		c.sleep(ctx, c.propagation)
		return nil
	}

	callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	acct, err := c.net.GetAccount(callCtx, address)
	cancel()
	if err != nil {
		return fmt.Errorf("load account %s: %w", address, err)
	}
	if acct.Authorized(c.asset) {
		return nil
	}

	callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	_, err = c.net.CreateAuthorization(callCtx, address, c.asset)
	cancel()
	if err != nil {
		return fmt.Errorf("authorize account %s: %w", address, err)
	}
	c.sleep(ctx, c.propagation)
	return nil
}

// recoverReference tries three strategies in order: the submission's
// embedded effect list, the decoded low-level result payload, and a delayed
// re-query of the transaction's effect history.
func (c *Client) recoverReference(ctx context.Context, result ledger.SubmitResult) string {
	if ref := refFromEffects(result.Effects); ref != "" {
		return ref
	}

	if len(result.ResultPayload) > 0 {
		for _, path := range resultPayloadPaths {
			if v := gjson.GetBytes(result.ResultPayload, path); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}

	if result.TxRef == "" {
		return ""
	}
	c.sleep(ctx, c.propagation)
	ref, err := c.RecoverReference(ctx, result.TxRef)
	if err != nil {
		c.log.WithError(err).WithField("tx_ref", result.TxRef).Warn("effect history re-query failed")
		return ""
	}
	return ref
}

// noteFailure records a hard pre-submission failure on the record and
// reports it as a transient settlement outage. The record stays pending so
// the reconciler can retry the whole submission.
func (c *Client) noteFailure(ctx context.Context, rec domain.Record, cause error) (domain.Record, error) {
	rec.Attempts++
	rec.LastError = cause.Error()
	if updated, err := c.store.UpdateSettlement(ctx, rec); err == nil {
		rec = updated
	} else {
		c.log.WithError(err).WithField("settlement", rec.ID).Warn("could not record settlement failure")
	}
	return rec, fmt.Errorf("%w: %v", mining.ErrSettlementUnavailable, cause)
}

func refFromEffects(effects []ledger.Effect) string {
	for _, e := range effects {
		if e.Type == ledger.EffectClaimCreated && e.Ref != "" {
			return e.Ref
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
