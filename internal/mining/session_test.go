package mining

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/domain/user"
	"github.com/Meridian-Network/mining_layer/internal/storage/memory"
)

type settleCall struct {
	userID    string
	sessionID string
	amount    asset.Amount
}

type stubSettler struct {
	mu    sync.Mutex
	calls []settleCall
	err   error
}

func (s *stubSettler) Settle(_ context.Context, userID, sessionID string, amount asset.Amount) (settlement.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return settlement.Record{}, s.err
	}
	s.calls = append(s.calls, settleCall{userID: userID, sessionID: sessionID, amount: amount})
	return settlement.Record{
		UserID: userID,
		Amount: amount,
		Status: settlement.StatusCompleted,
	}, nil
}

func (s *stubSettler) settled() []settleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]settleCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func newTestManager(t *testing.T, settler Settler) (*Manager, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	u, err := store.CreateUser(context.Background(), user.User{LedgerAddress: "GTEST"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	m := NewManager(Config{}, store, nil, nil, settler, nil, nil)
	return m, store, u.ID
}

func TestStartIdempotent(t *testing.T) {
	m, store, userID := newTestManager(t, nil)

	first, err := m.Start(context.Background(), userID)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.Rate != ComputeRate(1, 0, 0, 0) {
		t.Fatalf("unexpected rate %s", first.Rate.String())
	}

	second, err := m.Start(context.Background(), userID)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second start err = %v, want ErrSessionActive", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second start returned a different session: %s vs %s", second.ID, first.ID)
	}

	count, err := store.CountActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("active sessions = %d, want 1", count)
	}
}

func TestStopComputesEarnedAndSettles(t *testing.T) {
	settler := &stubSettler{}
	m, store, userID := newTestManager(t, settler)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess, err := store.CreateSession(context.Background(), session.Session{
		UserID:    userID,
		StartTime: start,
		Rate:      asset.FromFloat(0.5),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	m.now = func() time.Time { return start.Add(2 * time.Hour) }

	stopped, err := m.Stop(context.Background(), userID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Active {
		t.Fatal("session still active after stop")
	}
	if stopped.TotalEarned.String() != "1.00000000" {
		t.Fatalf("totalEarned = %s, want 1.00000000", stopped.TotalEarned.String())
	}
	if stopped.EndTime == nil {
		t.Fatal("end time not set")
	}

	calls := settler.settled()
	if len(calls) != 1 {
		t.Fatalf("settler calls = %d, want 1", len(calls))
	}
	if calls[0].amount.String() != "1.00000000" || calls[0].sessionID != sess.ID {
		t.Fatalf("unexpected settle call %+v", calls[0])
	}
}

func TestStopWithoutSession(t *testing.T) {
	m, _, userID := newTestManager(t, nil)
	if _, err := m.Stop(context.Background(), userID); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("err = %v, want ErrNoActiveSession", err)
	}
}

func TestStopSurvivesSettlementFailure(t *testing.T) {
	settler := &stubSettler{err: errors.New("network down")}
	m, store, userID := newTestManager(t, settler)

	start := time.Now().UTC().Add(-time.Hour)
	if _, err := store.CreateSession(context.Background(), session.Session{
		UserID:    userID,
		StartTime: start,
		Rate:      asset.FromFloat(1),
		Active:    true,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	stopped, err := m.Stop(context.Background(), userID)
	if err != nil {
		t.Fatalf("stop must swallow settlement failure, got %v", err)
	}
	if stopped.Active {
		t.Fatal("session still active")
	}
	if stopped.TotalEarned == 0 {
		t.Fatal("earned amount rolled back on settlement failure")
	}
}

func TestStopRespectsEarlierClaims(t *testing.T) {
	settler := &stubSettler{}
	m, store, userID := newTestManager(t, settler)

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rate := asset.FromFloat(0.5)
	if _, err := store.CreateSession(context.Background(), session.Session{
		UserID:      userID,
		StartTime:   start,
		Rate:        rate,
		Active:      true,
		TotalEarned: rate, // one checkpoint already claimed
		Checkpoints: 1,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	m.now = func() time.Time { return start.Add(3 * time.Hour) }

	stopped, err := m.Stop(context.Background(), userID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	// 3h at 0.5/h = 1.5 total; 0.5 was already settled, so 1.0 is owed.
	if stopped.TotalEarned.String() != "1.50000000" {
		t.Fatalf("totalEarned = %s", stopped.TotalEarned.String())
	}
	calls := settler.settled()
	if len(calls) != 1 || calls[0].amount.String() != "1.00000000" {
		t.Fatalf("unexpected settle calls %+v", calls)
	}
}

func TestStatusInactive(t *testing.T) {
	m, _, userID := newTestManager(t, nil)

	status, err := m.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Active {
		t.Fatal("expected inactive status")
	}
}

func TestStatusActive(t *testing.T) {
	m, store, userID := newTestManager(t, nil)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := store.CreateSession(context.Background(), session.Session{
		UserID:    userID,
		StartTime: start,
		Rate:      asset.FromFloat(1),
		Active:    true,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	m.now = func() time.Time { return start.Add(90 * time.Minute) }

	status, err := m.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Active {
		t.Fatal("expected active status")
	}
	if status.CurrentEarnings.String() != "1.50000000" {
		t.Fatalf("earnings = %s", status.CurrentEarnings.String())
	}
	if status.NextCheckpointIn != 30*time.Minute {
		t.Fatalf("next checkpoint in %s, want 30m", status.NextCheckpointIn)
	}
	want := 90.0 / (24 * 60) * 100
	if diff := status.Progress - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("progress = %v, want %v", status.Progress, want)
	}
}

func TestStatusProgressCapped(t *testing.T) {
	m, store, userID := newTestManager(t, nil)

	start := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := store.CreateSession(context.Background(), session.Session{
		UserID:    userID,
		StartTime: start,
		Rate:      asset.FromFloat(1),
		Active:    true,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	status, err := m.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Progress != 100 {
		t.Fatalf("progress = %v, want capped 100", status.Progress)
	}
}
