// Package wallet caches per-user snapshots of external holdings. The ledger
// stays authoritative; the cache only bounds how often it is queried.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	domain "github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/ledger"
	"github.com/Meridian-Network/mining_layer/internal/storage"
	"github.com/Meridian-Network/mining_layer/pkg/logger"
)

// DefaultTTL is how long a snapshot is served before the ledger is asked
// again.
const DefaultTTL = 30 * time.Second

// Service refreshes wallet snapshots on read. When a Redis client is
// configured it fronts the store; otherwise the store's RefreshedAt stamp
// alone decides freshness.
type Service struct {
	store storage.Store
	net   ledger.API
	asset ledger.Asset
	cache *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

// New creates the wallet service. cache may be nil.
func New(store storage.Store, net ledger.API, issued ledger.Asset, cache *redis.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{
		store: store,
		net:   net,
		asset: issued,
		cache: cache,
		ttl:   DefaultTTL,
		log:   log,
	}
}

func cacheKey(userID string) string { return "wallet:" + userID }

// Snapshot returns the user's holdings snapshot, refreshing from the ledger
// when the cached copy has expired.
func (s *Service) Snapshot(ctx context.Context, userID string) (domain.Wallet, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey(userID)).Bytes(); err == nil {
			var w domain.Wallet
			if json.Unmarshal(raw, &w) == nil {
				return w, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.WithError(err).Warn("wallet cache read failed")
		}
	}

	if w, err := s.store.GetWallet(ctx, userID); err == nil {
		if time.Since(w.RefreshedAt) < s.ttl {
			return w, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("load wallet: %w", err)
	}

	return s.refresh(ctx, userID)
}

// refresh queries the ledger and persists the new snapshot.
func (s *Service) refresh(ctx context.Context, userID string) (domain.Wallet, error) {
	if s.net == nil {
		return domain.Wallet{}, fmt.Errorf("no ledger configured")
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("look up user %s: %w", userID, err)
	}
	if u.LedgerAddress == "" {
		return domain.Wallet{}, fmt.Errorf("user %s has no ledger address", userID)
	}

	balance, err := s.net.AssetBalance(ctx, u.LedgerAddress, s.asset)
	if err != nil {
		// Serve the stale snapshot if one exists rather than failing
		// the read.
		if w, storeErr := s.store.GetWallet(ctx, userID); storeErr == nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("ledger query failed, serving stale snapshot")
			return w, nil
		}
		return domain.Wallet{}, fmt.Errorf("query ledger balance: %w", err)
	}

	w, err := s.store.UpsertWallet(ctx, domain.Wallet{
		UserID:  userID,
		Address: u.LedgerAddress,
		Balance: balance,
	})
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("store wallet snapshot: %w", err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(w); err == nil {
			if err := s.cache.Set(ctx, cacheKey(userID), raw, s.ttl).Err(); err != nil {
				s.log.WithError(err).Warn("wallet cache write failed")
			}
		}
	}
	return w, nil
}
