package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/domain/user"
	"github.com/Meridian-Network/mining_layer/internal/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	users           map[string]user.User
	sessions        map[string]session.Session
	activeByUser    map[string]string // userID -> session ID
	settlements     map[string]settlement.Record
	settlementOrder []string
	wallets         map[string]settlement.Wallet
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		users:        make(map[string]user.User),
		sessions:     make(map[string]session.Session),
		activeByUser: make(map[string]string),
		settlements:  make(map[string]settlement.Record),
		wallets:      make(map[string]settlement.Wallet),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation --------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	if u.Level < 1 {
		u.Level = 1
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpdateUserLevel(_ context.Context, id string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Level = level
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// SessionStore implementation -----------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return session.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}
	if sess.Active {
		if existing, ok := s.activeByUser[sess.UserID]; ok {
			return session.Session{}, fmt.Errorf("user %s already has active session %s", sess.UserID, existing)
		}
		s.activeByUser[sess.UserID] = sess.ID
	}

	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) UpdateSession(_ context.Context, sess session.Session) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sessions[sess.ID]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	if original.Active && !sess.Active {
		delete(s.activeByUser, original.UserID)
	}

	sess.CreatedAt = original.CreatedAt
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetActiveSession(_ context.Context, userID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeByUser[userID]
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	return s.sessions[id], nil
}

func (s *Store) GetRecentCompletedSessions(_ context.Context, userID string, limit int) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var completed []session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Active && sess.EndTime != nil {
			completed = append(completed, sess)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].EndTime.After(*completed[j].EndTime)
	})
	if limit > 0 && len(completed) > limit {
		completed = completed[:limit]
	}
	return completed, nil
}

func (s *Store) CountActiveSessions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeByUser), nil
}

// SettlementStore implementation --------------------------------------------

func (s *Store) CreateSettlement(_ context.Context, rec settlement.Record) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	} else if _, exists := s.settlements[rec.ID]; exists {
		return settlement.Record{}, fmt.Errorf("settlement %s already exists", rec.ID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.settlements[rec.ID] = rec
	s.settlementOrder = append(s.settlementOrder, rec.ID)
	return rec, nil
}

func (s *Store) UpdateSettlement(_ context.Context, rec settlement.Record) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.settlements[rec.ID]
	if !ok {
		return settlement.Record{}, storage.ErrNotFound
	}
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.settlements[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetSettlement(_ context.Context, id string) (settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.settlements[id]
	if !ok {
		return settlement.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListPendingSettlements(_ context.Context) ([]settlement.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []settlement.Record
	for _, id := range s.settlementOrder {
		if rec := s.settlements[id]; rec.Status == settlement.StatusPending {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}

func (s *Store) SumSettledByUser(_ context.Context, userID string) (asset.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total asset.Amount
	for _, rec := range s.settlements {
		if rec.UserID == userID && rec.Status != settlement.StatusFailed {
			total += rec.Amount
		}
	}
	return total, nil
}

func (s *Store) UpsertWallet(_ context.Context, w settlement.Wallet) (settlement.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.RefreshedAt = time.Now().UTC()
	s.wallets[w.UserID] = w
	return w, nil
}

func (s *Store) GetWallet(_ context.Context, userID string) (settlement.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return settlement.Wallet{}, storage.ErrNotFound
	}
	return w, nil
}

func (s *Store) SumWalletBalances(_ context.Context) (asset.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total asset.Amount
	for _, w := range s.wallets {
		total += w.Balance
	}
	return total, nil
}
