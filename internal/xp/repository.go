package xp

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

var ErrRuleNotFound = errors.New("conversion rule not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const entryColumns = `id, user_id, xp_amount, converted_amount, source, source_id, earned_at, expires_at`
const ruleColumns = `id, name, xp_required, credits_granted, credit_validity_days, is_automatic, max_uses_per_user, cooldown_days, priority, active, created_at`

// GrantTx appends a ledger entry. Caller holds the user lock.
func GrantTx(ctx context.Context, tx *sqlx.Tx, userID, amount int, source string, sourceID *int) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, apperr.Newf(apperr.KindInternal, "xp grant must be positive, got %d", amount)
	}

	var e LedgerEntry
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO xp_ledger (user_id, xp_amount, source, source_id, earned_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW() + make_interval(days => $5))
		RETURNING `+entryColumns+`
	`, userID, amount, source, sourceID, ValidityDays).StructScan(&e)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// AvailableTx sums unconverted XP over non-expired entries.
func AvailableTx(ctx context.Context, tx *sqlx.Tx, userID int) (int, error) {
	var available int
	err := tx.GetContext(ctx, &available, `
		SELECT COALESCE(SUM(xp_amount - converted_amount), 0)
		FROM xp_ledger
		WHERE user_id = $1 AND expires_at > NOW()
	`, userID)
	return available, err
}

// ConsumeTx consumes exactly amount XP from the user's non-expired
// entries, earliest-expiring first, by advancing converted_amount. Fails
// with insufficient_xp and no change when the pool is short.
func ConsumeTx(ctx context.Context, tx *sqlx.Tx, userID, amount int) error {
	available, err := AvailableTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if available < amount {
		return apperr.Newf(apperr.KindInsufficientXP, "need %d XP, have %d", amount, available)
	}

	var entries []LedgerEntry
	err = tx.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM xp_ledger
		WHERE user_id = $1 AND expires_at > NOW() AND converted_amount < xp_amount
		ORDER BY expires_at ASC, id ASC
	`, userID)
	if err != nil {
		return err
	}

	remaining := amount
	for _, e := range entries {
		if remaining == 0 {
			break
		}
		take := e.XPAmount - e.ConvertedAmount
		if take > remaining {
			take = remaining
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE xp_ledger
			SET converted_amount = converted_amount + $1
			WHERE id = $2 AND converted_amount + $1 <= xp_amount
		`, take, e.ID)
		if err != nil {
			return err
		}

		remaining -= take
	}

	return nil
}

// ConsumeUpToTx consumes at most amount XP and reports how much it took.
// Backs the late-cancel penalty: XP never goes below zero.
func ConsumeUpToTx(ctx context.Context, tx *sqlx.Tx, userID, amount int) (int, error) {
	available, err := AvailableTx(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if available == 0 {
		return 0, nil
	}
	if amount > available {
		amount = available
	}
	if err := ConsumeTx(ctx, tx, userID, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func InsertConversionTx(ctx context.Context, tx *sqlx.Tx, userID, ruleID, walletID, xpSpent, creditsGranted int) (*Conversion, error) {
	var c Conversion
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO xp_conversions (user_id, rule_id, wallet_id, xp_spent, credits_granted)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, rule_id, wallet_id, xp_spent, credits_granted, created_at
	`, userID, ruleID, walletID, xpSpent, creditsGranted).StructScan(&c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func RuleUseCountTx(ctx context.Context, tx *sqlx.Tx, userID, ruleID int) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM xp_conversions WHERE user_id = $1 AND rule_id = $2
	`, userID, ruleID)
	return count, err
}

func LastRuleUseTx(ctx context.Context, tx *sqlx.Tx, userID, ruleID int) (*time.Time, error) {
	var last time.Time
	err := tx.GetContext(ctx, &last, `
		SELECT created_at FROM xp_conversions
		WHERE user_id = $1 AND rule_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &last, nil
}

func GetRuleTx(ctx context.Context, tx *sqlx.Tx, ruleID int) (*Rule, error) {
	var rule Rule
	err := tx.GetContext(ctx, &rule, `SELECT `+ruleColumns+` FROM conversion_rules WHERE id = $1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Repository) Available(ctx context.Context, userID int) (int, error) {
	var available int
	err := r.db.GetContext(ctx, &available, `
		SELECT COALESCE(SUM(xp_amount - converted_amount), 0)
		FROM xp_ledger
		WHERE user_id = $1 AND expires_at > NOW()
	`, userID)
	return available, err
}

func (r *Repository) ExpiringWithin(ctx context.Context, userID, days int) (int, error) {
	var amount int
	err := r.db.GetContext(ctx, &amount, `
		SELECT COALESCE(SUM(xp_amount - converted_amount), 0)
		FROM xp_ledger
		WHERE user_id = $1
		  AND expires_at > NOW()
		  AND expires_at <= NOW() + make_interval(days => $2)
	`, userID, days)
	return amount, err
}

// ListActiveRules returns active rules in sweep order: best priority rank
// first (1 is highest), cheapest requirement as tie-break.
func (r *Repository) ListActiveRules(ctx context.Context, automaticOnly bool) ([]Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM conversion_rules
		WHERE active = true
	`
	if automaticOnly {
		query += ` AND is_automatic = true`
	}
	query += ` ORDER BY priority ASC, xp_required ASC`

	var rules []Rule
	err := r.db.SelectContext(ctx, &rules, query)
	return rules, err
}

func (r *Repository) GetRule(ctx context.Context, ruleID int) (*Rule, error) {
	var rule Rule
	err := r.db.GetContext(ctx, &rule, `SELECT `+ruleColumns+` FROM conversion_rules WHERE id = $1`, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *Repository) RuleUseCount(ctx context.Context, userID, ruleID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM xp_conversions WHERE user_id = $1 AND rule_id = $2
	`, userID, ruleID)
	return count, err
}

func (r *Repository) LastRuleUse(ctx context.Context, userID, ruleID int) (*time.Time, error) {
	var last time.Time
	err := r.db.GetContext(ctx, &last, `
		SELECT created_at FROM xp_conversions
		WHERE user_id = $1 AND rule_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &last, nil
}

func (r *Repository) RecentConversions(ctx context.Context, userID, limit int) ([]Conversion, error) {
	if limit <= 0 {
		limit = 10
	}

	var conversions []Conversion
	err := r.db.SelectContext(ctx, &conversions, `
		SELECT id, user_id, rule_id, wallet_id, xp_spent, credits_granted, created_at
		FROM xp_conversions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	return conversions, err
}

// HasGrantForSource reports whether a grant with this source tag and id
// already exists. Keeps achievement grants idempotent per milestone.
func (r *Repository) HasGrantForSource(ctx context.Context, userID int, source string, sourceID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM xp_ledger
			WHERE user_id = $1 AND source = $2 AND source_id = $3
		)
	`, userID, source, sourceID)
	return exists, err
}
