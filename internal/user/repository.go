package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrUserNotFound = errors.New("user not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, name, email, passwordHash string, role Role, gender *string, taxID string) (*User, error) {
	query := `
		INSERT INTO users (name, email, password_hash, role, gender, tax_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, email, password_hash, role, gender, tax_id, xp_available, credits_balance, active, created_at, updated_at
	`

	var u User
	err := r.db.GetContext(ctx, &u, query, name, email, passwordHash, role, gender, taxID)
	if err != nil {
		return nil, err
	}

	return &u, nil
}

func (r *Repository) FindByID(ctx context.Context, id int) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, role, gender, tax_id, xp_available, credits_balance, active, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.GetContext(ctx, &u, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, role, gender, tax_id, xp_available, credits_balance, active, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var u User
	err := r.db.GetContext(ctx, &u, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, email)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// ScreeningStatusForTx reports whether the user holds a valid screening
// of the given kind. Runs in-transaction so the gate holds under the
// user lock.
func ScreeningStatusForTx(ctx context.Context, tx *sqlx.Tx, userID int, kind string) (ScreeningStatus, error) {
	query := `
		SELECT id, user_id, kind, expires_at, blocked, created_at
		FROM health_screenings
		WHERE user_id = $1 AND kind = $2 AND expires_at > NOW()
		ORDER BY expires_at DESC
		LIMIT 1
	`

	var s HealthScreening
	err := tx.GetContext(ctx, &s, query, userID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScreeningMissing, nil
		}
		return ScreeningMissing, err
	}

	if s.Blocked {
		return ScreeningBlocked, nil
	}
	return ScreeningOK, nil
}

// GenderCounts returns the number of active students per declared gender.
// Used by the segregation distribution pass.
func (r *Repository) GenderCounts(ctx context.Context) (male, female int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE gender = 'male')   AS male,
			COUNT(*) FILTER (WHERE gender = 'female') AS female
		FROM users
		WHERE role = 'student' AND active = true AND gender IS NOT NULL
	`

	row := struct {
		Male   int `db:"male"`
		Female int `db:"female"`
	}{}
	if err := r.db.GetContext(ctx, &row, query); err != nil {
		return 0, 0, err
	}

	return row.Male, row.Female, nil
}

func (r *Repository) ListActiveIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users WHERE active = true ORDER BY id`)
	return ids, err
}

// LockTx acquires the row-level lock that serializes all state-changing
// operations for one user. Always the first lock taken (user -> schedule
// -> batch).
func LockTx(ctx context.Context, tx *sqlx.Tx, userID int) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, role, gender, tax_id, xp_available, credits_balance, active, created_at, updated_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`

	var u User
	err := tx.GetContext(ctx, &u, query, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &u, nil
}

// RefreshTotalsTx recomputes the cached xp_available and credits_balance
// from ledger truth. Must run inside the same transaction as the ledger
// change it reflects.
func RefreshTotalsTx(ctx context.Context, tx *sqlx.Tx, userID int) error {
	query := `
		UPDATE users SET
			xp_available = (
				SELECT COALESCE(SUM(xp_amount - converted_amount), 0)
				FROM xp_ledger
				WHERE user_id = $1 AND expires_at > NOW()
			),
			credits_balance = (
				SELECT COALESCE(SUM(credits_remaining), 0)
				FROM credit_wallets
				WHERE user_id = $1 AND is_expired = false AND expires_at > NOW()
			) + (
				SELECT COALESCE(SUM(credits_total - credits_used), 0)
				FROM subscriptions
				WHERE user_id = $1 AND status = 'active'
			),
			updated_at = NOW()
		WHERE id = $1
	`

	_, err := tx.ExecContext(ctx, query, userID)
	return err
}

// ReconcileTotals recomputes the cached totals for every user, one short
// transaction each. Recovery path for a cache discovered out of sync.
func (r *Repository) ReconcileTotals(ctx context.Context) (int, error) {
	ids, err := r.ListActiveIDs(ctx)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, id := range ids {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return fixed, err
		}
		if _, err := LockTx(ctx, tx, id); err != nil {
			tx.Rollback()
			continue
		}
		if err := RefreshTotalsTx(ctx, tx, id); err != nil {
			tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return fixed, err
		}
		fixed++
	}

	return fixed, nil
}
