package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Meridian-Network/mining_layer/internal/domain/asset"
	"github.com/Meridian-Network/mining_layer/internal/domain/session"
	"github.com/Meridian-Network/mining_layer/internal/domain/settlement"
	"github.com/Meridian-Network/mining_layer/internal/domain/user"
	"github.com/Meridian-Network/mining_layer/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func translateErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Level < 1 {
		u.Level = 1
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, level, referred_by, referral_count, ledger_address, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
	`, u.ID, u.Level, u.ReferredBy, u.ReferralCount, u.LedgerAddress, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	u.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET level = $2, referred_by = NULLIF($3, ''), referral_count = $4, ledger_address = $5, updated_at = $6
		WHERE id = $1
	`, u.ID, u.Level, u.ReferredBy, u.ReferralCount, u.LedgerAddress, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, level, COALESCE(referred_by, ''), referral_count, ledger_address, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	var u user.User
	if err := row.Scan(&u.ID, &u.Level, &u.ReferredBy, &u.ReferralCount, &u.LedgerAddress, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, translateErr(err)
	}
	return u, nil
}

func (s *Store) UpdateUserLevel(ctx context.Context, id string, level int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET level = $2, updated_at = $3 WHERE id = $1
	`, id, level, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- SessionStore -----------------------------------------------------------

const sessionColumns = `id, user_id, start_time, end_time, rate, active, total_earned, checkpoints, progress, created_at, updated_at`

func (s *Store) CreateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	// The partial unique index on (user_id) WHERE active enforces the
	// one-active-session invariant at the database level as well.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.UserID, sess.StartTime, sess.EndTime, int64(sess.Rate), sess.Active,
		int64(sess.TotalEarned), sess.Checkpoints, sess.Progress, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess session.Session) (session.Session, error) {
	sess.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET end_time = $2, rate = $3, active = $4, total_earned = $5, checkpoints = $6, progress = $7, updated_at = $8
		WHERE id = $1
	`, sess.ID, sess.EndTime, int64(sess.Rate), sess.Active, int64(sess.TotalEarned),
		sess.Checkpoints, sess.Progress, sess.UpdatedAt)
	if err != nil {
		return session.Session{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return session.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func scanSession(scan func(dest ...interface{}) error) (session.Session, error) {
	var (
		sess        session.Session
		rate, total int64
		endTime     sql.NullTime
	)
	if err := scan(&sess.ID, &sess.UserID, &sess.StartTime, &endTime, &rate, &sess.Active,
		&total, &sess.Checkpoints, &sess.Progress, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return session.Session{}, err
	}
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	sess.Rate = asset.Amount(rate)
	sess.TotalEarned = asset.Amount(total)
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	sess, err := scanSession(row.Scan)
	if err != nil {
		return session.Session{}, translateErr(err)
	}
	return sess, nil
}

func (s *Store) GetActiveSession(ctx context.Context, userID string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 AND active
	`, userID)
	sess, err := scanSession(row.Scan)
	if err != nil {
		return session.Session{}, translateErr(err)
	}
	return sess, nil
}

func (s *Store) GetRecentCompletedSessions(ctx context.Context, userID string, limit int) ([]session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND NOT active AND end_time IS NOT NULL
		ORDER BY end_time DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *Store) CountActiveSessions(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE active`).Scan(&count)
	return count, err
}

// --- SettlementStore --------------------------------------------------------

const settlementColumns = `id, user_id, session_id, amount, external_ref, tx_ref, status, attempts, last_error, created_at, updated_at`

const settlementSelectColumns = `id, user_id, COALESCE(session_id, ''), amount, external_ref, tx_ref, status, attempts, last_error, created_at, updated_at`

func (s *Store) CreateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.UserID, rec.SessionID, int64(rec.Amount), rec.ExternalRef, rec.TxRef,
		string(rec.Status), rec.Attempts, rec.LastError, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return settlement.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateSettlement(ctx context.Context, rec settlement.Record) (settlement.Record, error) {
	rec.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE settlements
		SET external_ref = $2, tx_ref = $3, status = $4, attempts = $5, last_error = $6, updated_at = $7
		WHERE id = $1
	`, rec.ID, rec.ExternalRef, rec.TxRef, string(rec.Status), rec.Attempts, rec.LastError, rec.UpdatedAt)
	if err != nil {
		return settlement.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return settlement.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func scanSettlement(scan func(dest ...interface{}) error) (settlement.Record, error) {
	var (
		rec    settlement.Record
		amount int64
		status string
	)
	if err := scan(&rec.ID, &rec.UserID, &rec.SessionID, &amount, &rec.ExternalRef, &rec.TxRef,
		&status, &rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return settlement.Record{}, err
	}
	rec.Amount = asset.Amount(amount)
	rec.Status = settlement.Status(status)
	return rec, nil
}

func (s *Store) GetSettlement(ctx context.Context, id string) (settlement.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+settlementSelectColumns+` FROM settlements WHERE id = $1
	`, id)
	rec, err := scanSettlement(row.Scan)
	if err != nil {
		return settlement.Record{}, translateErr(err)
	}
	return rec, nil
}

func (s *Store) ListPendingSettlements(ctx context.Context) ([]settlement.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+settlementSelectColumns+`
		FROM settlements
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Record
	for rows.Next() {
		rec, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) SumSettledByUser(ctx context.Context, userID string) (asset.Amount, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM settlements
		WHERE user_id = $1 AND status <> 'failed'
	`, userID).Scan(&total)
	return asset.Amount(total), err
}

func (s *Store) UpsertWallet(ctx context.Context, w settlement.Wallet) (settlement.Wallet, error) {
	w.RefreshedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, address, balance, refreshed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET address = EXCLUDED.address, balance = EXCLUDED.balance, refreshed_at = EXCLUDED.refreshed_at
	`, w.UserID, w.Address, int64(w.Balance), w.RefreshedAt)
	if err != nil {
		return settlement.Wallet{}, err
	}
	return w, nil
}

func (s *Store) GetWallet(ctx context.Context, userID string) (settlement.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, address, balance, refreshed_at FROM wallets WHERE user_id = $1
	`, userID)

	var (
		w       settlement.Wallet
		balance int64
	)
	if err := row.Scan(&w.UserID, &w.Address, &balance, &w.RefreshedAt); err != nil {
		return settlement.Wallet{}, translateErr(err)
	}
	w.Balance = asset.Amount(balance)
	return w, nil
}

func (s *Store) SumWalletBalances(ctx context.Context) (asset.Amount, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(balance), 0) FROM wallets`).Scan(&total)
	return asset.Amount(total), err
}
