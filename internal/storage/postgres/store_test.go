package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/domain/user"
	"github.com/Meridian-Network/mining_layer/internal/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestCreateUserAssignsIDAndLevel(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := s.CreateUser(context.Background(), user.User{LedgerAddress: "GABC"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("no id assigned")
	}
	if u.Level != 1 {
		t.Fatalf("level = %d, want default 1", u.Level)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateUserLevelNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users SET level").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.UpdateUserLevel(context.Background(), "missing", 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetActiveSessionScansAmounts(t *testing.T) {
	s, mock := newMockStore(t)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "start_time", "end_time", "rate", "active",
		"total_earned", "checkpoints", "progress", "created_at", "updated_at",
	}).AddRow("s1", "u1", start, nil, int64(50000000), true, int64(0), int64(0), 0.0, now, now)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE user_id").
		WithArgs("u1").
		WillReturnRows(rows)

	sess, err := s.GetActiveSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if sess.Rate.String() != "0.50000000" {
		t.Fatalf("rate = %s", sess.Rate.String())
	}
	if sess.EndTime != nil {
		t.Fatal("end time must be nil for an active session")
	}
}

func TestGetActiveSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE user_id").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetActiveSession(context.Background(), "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionStoresRawAmounts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := s.CreateSession(context.Background(), session.Session{
		UserID:    "u1",
		StartTime: time.Now().UTC(),
		Rate:      asset.FromFloat(0.5),
		Active:    true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("no id assigned")
	}
}

func TestUpdateSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := s.UpdateSession(context.Background(), session.Session{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingSettlements(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "session_id", "amount", "external_ref", "tx_ref",
		"status", "attempts", "last_error", "created_at", "updated_at",
	}).
		AddRow("r1", "u1", "s1", int64(100000000), "", "tx-1", "pending", 1, "timeout", now, now).
		AddRow("r2", "u2", "", int64(50000000), "", "", "pending", 0, "", now, now)

	mock.ExpectQuery("SELECT (.+) FROM settlements").
		WillReturnRows(rows)

	pending, err := s.ListPendingSettlements(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len = %d, want 2", len(pending))
	}
	if pending[0].Amount.String() != "1.00000000" || pending[0].Status != settlement.StatusPending {
		t.Fatalf("record = %+v", pending[0])
	}
	if pending[1].SessionID != "" {
		t.Fatal("level-bonus records have no session")
	}
}

func TestSumSettledByUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM settlements").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(250000000)))

	total, err := s.SumSettledByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total.String() != "2.50000000" {
		t.Fatalf("total = %s", total.String())
	}
}

func TestUpsertWallet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO wallets").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w, err := s.UpsertWallet(context.Background(), settlement.Wallet{
		UserID:  "u1",
		Address: "GUSER",
		Balance: asset.FromFloat(1),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if w.RefreshedAt.IsZero() {
		t.Fatal("refreshed-at not stamped")
	}
}

func TestCountActiveSessions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM sessions WHERE active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountActiveSessions(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 7 {
		t.Fatalf("count = %d, want 7", count)
	}
}
