package credits

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const activeWalletColumns = `id, user_id, credits_initial, credits_remaining, source, expires_at, is_expired, created_at`

// activeWalletsQuery orders by expiry: FIFO here means
// first-to-expire-first-out, with creation time as tie-break.
const activeWalletsQuery = `
	SELECT ` + activeWalletColumns + `
	FROM credit_wallets
	WHERE user_id = $1
	  AND is_expired = false
	  AND credits_remaining > 0
	  AND expires_at > NOW()
	ORDER BY expires_at ASC, created_at ASC
`

func (r *Repository) ListActive(ctx context.Context, userID int) ([]Wallet, error) {
	var wallets []Wallet
	err := r.db.SelectContext(ctx, &wallets, activeWalletsQuery, userID)
	return wallets, err
}

func activeWalletsTx(ctx context.Context, tx *sqlx.Tx, userID int) ([]Wallet, error) {
	var wallets []Wallet
	err := tx.SelectContext(ctx, &wallets, activeWalletsQuery, userID)
	return wallets, err
}

// DebitTx debits amount credits from the user's lots, earliest expiry
// first. All-or-nothing: when the live total is short the transaction sees
// no change and insufficient_credits is returned.
//
// Only correct under a FOR UPDATE on the user row; the caller must hold it
// before invoking this, or two concurrent debits can double-spend a lot.
func DebitTx(ctx context.Context, tx *sqlx.Tx, userID, amount int, reason string) (*DebitReceipt, error) {
	if amount <= 0 {
		return nil, apperr.Newf(apperr.KindInternal, "debit amount must be positive, got %d", amount)
	}

	wallets, err := activeWalletsTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	available := 0
	for _, w := range wallets {
		available += w.CreditsRemaining
	}
	if available < amount {
		return nil, apperr.Newf(apperr.KindInsufficientCredits, "need %d credits, have %d", amount, available)
	}

	receipt := &DebitReceipt{
		GroupID: uuid.New(),
		UserID:  userID,
		Total:   amount,
		Reason:  reason,
	}

	remaining := amount
	for _, w := range wallets {
		if remaining == 0 {
			break
		}
		take := w.CreditsRemaining
		if take > remaining {
			take = remaining
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE credit_wallets
			SET credits_remaining = credits_remaining - $1
			WHERE id = $2 AND credits_remaining >= $1
		`, take, w.ID)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Balance moved under us despite the user lock: integrity fault.
			return nil, apperr.Internal("wallet balance changed mid-debit", fmt.Errorf("wallet %d", w.ID))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_debits (debit_group, user_id, wallet_id, amount, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, receipt.GroupID, userID, w.ID, take, reason)
		if err != nil {
			return nil, err
		}

		receipt.Lines = append(receipt.Lines, DebitLine{WalletID: w.ID, Amount: take})
		remaining -= take
	}

	return receipt, nil
}

// MintTx creates a new credit lot. Caller holds the user lock and refreshes
// the cached totals afterwards.
func MintTx(ctx context.Context, tx *sqlx.Tx, userID, amount int, source Source, validityDays int) (*Wallet, error) {
	if amount <= 0 {
		return nil, apperr.Newf(apperr.KindInternal, "mint amount must be positive, got %d", amount)
	}

	var w Wallet
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO credit_wallets (user_id, credits_initial, credits_remaining, source, expires_at)
		VALUES ($1, $2, $2, $3, NOW() + make_interval(days => $4))
		RETURNING `+activeWalletColumns+`
	`, userID, amount, source, validityDays).StructScan(&w)
	if err != nil {
		return nil, err
	}

	return &w, nil
}

// ListDueForExpiry returns lots whose expiry has passed but which are not
// yet flagged, including empty ones so the flag converges.
func (r *Repository) ListDueForExpiry(ctx context.Context) ([]ExpiredLot, error) {
	var lots []ExpiredLot
	err := r.db.SelectContext(ctx, &lots, `
		SELECT id, user_id, credits_remaining
		FROM credit_wallets
		WHERE is_expired = false AND expires_at <= NOW()
		ORDER BY user_id, id
	`)
	return lots, err
}

func MarkExpiredTx(ctx context.Context, tx *sqlx.Tx, walletID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE credit_wallets
		SET is_expired = true
		WHERE id = $1 AND is_expired = false
	`, walletID)
	return err
}

// ExpiringWallet pairs a lot with its owner's contact for the warning
// notification.
type ExpiringWallet struct {
	Wallet
	UserName  string `db:"user_name"`
	UserEmail string `db:"user_email"`
}

func (r *Repository) ListExpiringWithin(ctx context.Context, days int) ([]ExpiringWallet, error) {
	var wallets []ExpiringWallet
	err := r.db.SelectContext(ctx, &wallets, `
		SELECT w.id, w.user_id, w.credits_initial, w.credits_remaining, w.source, w.expires_at, w.is_expired, w.created_at,
		       u.name AS user_name, u.email AS user_email
		FROM credit_wallets w
		JOIN users u ON u.id = w.user_id
		WHERE w.is_expired = false
		  AND w.credits_remaining > 0
		  AND w.expires_at > NOW()
		  AND w.expires_at <= NOW() + make_interval(days => $1)
		ORDER BY w.expires_at ASC
	`, days)
	return wallets, err
}
