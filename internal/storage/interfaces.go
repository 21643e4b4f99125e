package storage

import (
	"context"
	"errors"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/domain/user"
)

// ErrNotFound is returned by all stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// UserStore persists program participants.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	UpdateUserLevel(ctx context.Context, id string, level int) error
}

// SessionStore persists accrual sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s session.Session) (session.Session, error)
	UpdateSession(ctx context.Context, s session.Session) (session.Session, error)
	GetSession(ctx context.Context, id string) (session.Session, error)
	GetActiveSession(ctx context.Context, userID string) (session.Session, error)
	GetRecentCompletedSessions(ctx context.Context, userID string, limit int) ([]session.Session, error)
	CountActiveSessions(ctx context.Context) (int, error)
}

// SettlementStore persists settlement records and wallet snapshots.
type SettlementStore interface {
	CreateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error)
	UpdateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error)
	GetSettlement(ctx context.Context, id string) (settlement.Record, error)
	ListPendingSettlements(ctx context.Context) ([]settlement.Record, error)
	SumSettledByUser(ctx context.Context, userID string) (asset.Amount, error)

	UpsertWallet(ctx context.Context, w settlement.Wallet) (settlement.Wallet, error)
	GetWallet(ctx context.Context, userID string) (settlement.Wallet, error)
	SumWalletBalances(ctx context.Context) (asset.Amount, error)
}

// Store aggregates every persistence concern the engine consumes.
type Store interface {
	UserStore
	SessionStore
	SettlementStore
}
