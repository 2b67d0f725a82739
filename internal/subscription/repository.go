package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `id, user_id, credits_total, credits_used, start_date, end_date, status, payment_status, suspended_at, suspended_reason, created_at, updated_at`
const paymentColumns = `id, subscription_id, installment_no, total_installments, amount_cents, due_date, paid_date, status, overdue_days, gateway_reference`

func (r *Repository) GetByID(ctx context.Context, id int) (*Subscription, error) {
	var s Subscription
	err := r.db.GetContext(ctx, &s, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) ListActiveForUser(ctx context.Context, userID int) ([]Subscription, error) {
	var subs []Subscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY end_date ASC
	`, userID)
	return subs, err
}

func GetTx(ctx context.Context, tx *sqlx.Tx, id int) (*Subscription, error) {
	var s Subscription
	err := tx.GetContext(ctx, &s, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DebitTx consumes cost credits from an active subscription. The guard in
// the WHERE clause keeps credits_used within credits_total even under
// concurrent writers.
func DebitTx(ctx context.Context, tx *sqlx.Tx, subscriptionID, cost int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET credits_used = credits_used + $1, updated_at = NOW()
		WHERE id = $2
		  AND status = 'active'
		  AND credits_used + $1 <= credits_total
	`, cost, subscriptionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.KindInsufficientCredits, "subscription has no credits left")
	}
	return nil
}

// RefundTx returns cost credits to the subscription by decrementing
// credits_used, never below zero.
func RefundTx(ctx context.Context, tx *sqlx.Tx, subscriptionID, cost int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET credits_used = credits_used - $1, updated_at = NOW()
		WHERE id = $2 AND credits_used >= $1
	`, cost, subscriptionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Newf(apperr.KindInternal, "refund of %d credits would underflow subscription %d", cost, subscriptionID)
	}
	return nil
}

func SuspendTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'suspended', suspended_at = NOW(), suspended_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'active'
	`, reason, subscriptionID)
	return err
}

// CancelTx cancels the subscription and zeroes its credits, per the 90-day
// dunning policy.
func CancelTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'cancelled', credits_total = 0, credits_used = 0, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'suspended')
	`, subscriptionID)
	return err
}

// UnsuspendTx reactivates a suspended subscription.
func UnsuspendTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'active', suspended_at = NULL, suspended_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'suspended'
	`, subscriptionID)
	return err
}

// ExpireTx marks a subscription expired and forfeits remaining credits.
func ExpireTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'expired', credits_used = credits_total, updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'suspended')
	`, subscriptionID)
	return err
}

func (r *Repository) GetPayment(ctx context.Context, id int) (*Payment, error) {
	var p Payment
	err := r.db.GetContext(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetGatewayReference pins the provider charge onto an unpaid
// installment.
func (r *Repository) SetGatewayReference(ctx context.Context, paymentID int, ref string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET gateway_reference = $1
		WHERE id = $2 AND status IN ('pending', 'overdue')
	`, ref, paymentID)
	return err
}

// ListPendingDue returns pending payments whose due date has passed.
func (r *Repository) ListPendingDue(ctx context.Context, today time.Time) ([]Payment, error) {
	var payments []Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND due_date < $1
		ORDER BY subscription_id, installment_no
	`, today.Format("2006-01-02"))
	return payments, err
}

// ListOverdue returns overdue payments for the aging pass.
func (r *Repository) ListOverdue(ctx context.Context) ([]Payment, error) {
	var payments []Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'overdue'
		ORDER BY subscription_id, installment_no
	`)
	return payments, err
}

// ListDueInDays returns pending payments due exactly in n days, for the
// D-3 reminder.
func (r *Repository) ListDueInDays(ctx context.Context, today time.Time, n int) ([]Payment, error) {
	var payments []Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'pending' AND due_date = $1
		ORDER BY subscription_id, installment_no
	`, today.AddDate(0, 0, n).Format("2006-01-02"))
	return payments, err
}

// MarkOverdueTx flips a pending payment to overdue with its age.
func MarkOverdueTx(ctx context.Context, tx *sqlx.Tx, paymentID, overdueDays int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'overdue', overdue_days = $1
		WHERE id = $2 AND status = 'pending'
	`, overdueDays, paymentID)
	return err
}

func RefreshOverdueDaysTx(ctx context.Context, tx *sqlx.Tx, paymentID, overdueDays int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET overdue_days = $1
		WHERE id = $2 AND status = 'overdue'
	`, overdueDays, paymentID)
	return err
}

// MarkPaidTx settles a payment.
func MarkPaidTx(ctx context.Context, tx *sqlx.Tx, paymentID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'paid', paid_date = NOW(), overdue_days = 0
		WHERE id = $1 AND status IN ('pending', 'overdue')
	`, paymentID)
	return err
}

// AllPaidTx reports whether every installment of the subscription is paid.
func AllPaidTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int) (bool, error) {
	var unpaid int
	err := tx.GetContext(ctx, &unpaid, `
		SELECT COUNT(*) FROM payments
		WHERE subscription_id = $1 AND status IN ('pending', 'overdue')
	`, subscriptionID)
	if err != nil {
		return false, err
	}
	return unpaid == 0, nil
}

func MarkSubscriptionPaidTx(ctx context.Context, tx *sqlx.Tx, subscriptionID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET payment_status = 'paid', updated_at = NOW()
		WHERE id = $1
	`, subscriptionID)
	return err
}

// ListEndedWithCredits returns active subscriptions past their end date.
func (r *Repository) ListEndedWithCredits(ctx context.Context, today time.Time) ([]Subscription, error) {
	var subs []Subscription
	err := r.db.SelectContext(ctx, &subs, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('active', 'suspended') AND end_date < $1
		ORDER BY id
	`, today.Format("2006-01-02"))
	return subs, err
}
