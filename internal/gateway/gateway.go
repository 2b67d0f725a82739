package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

// ChargeStatus is the gateway-reported state of a charge. The core only
// reasons about these terminal states; transport details stay behind the
// adapter.
type ChargeStatus string

const (
	StatusPending   ChargeStatus = "pending"
	StatusPaid      ChargeStatus = "paid"
	StatusRejected  ChargeStatus = "rejected"
	StatusCancelled ChargeStatus = "cancelled"
	StatusRefunded  ChargeStatus = "refunded"
)

type ChargeRequest struct {
	Reference   string
	UserTaxID   string
	Description string
	Amount      decimal.Decimal
	DueDate     time.Time
}

type RecurringRequest struct {
	Reference   string
	UserTaxID   string
	Description string
	Amount      decimal.Decimal
	IntervalDay int
}

type Charge struct {
	Reference  string
	ExternalID string
	Status     ChargeStatus
	PixCode    string
	CreatedAt  time.Time
}

// Gateway is the payment-provider port. Implementations must be safe for
// concurrent use and must never be called inside an open transaction.
type Gateway interface {
	CreatePix(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreateRecurring(ctx context.Context, req RecurringRequest) (*Charge, error)
	GetStatus(ctx context.Context, reference string) (ChargeStatus, error)
	Cancel(ctx context.Context, reference string) error
	Pause(ctx context.Context, reference string) error
	Resume(ctx context.Context, reference string) error
	Refund(ctx context.Context, reference string) error
}

// WithTimeout bounds every call of the wrapped gateway. An exceeded
// deadline surfaces as external_timeout, which callers treat as retryable.
func WithTimeout(g Gateway, timeout time.Duration) Gateway {
	return &timeoutGateway{inner: g, timeout: timeout}
}

type timeoutGateway struct {
	inner   Gateway
	timeout time.Duration
}

func (t *timeoutGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Newf(apperr.KindExternalTimeout, "gateway %s timed out after %s", op, t.timeout)
	}
	return err
}

func (t *timeoutGateway) CreatePix(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var c *Charge
	err := t.call(ctx, "create_pix", func(ctx context.Context) error {
		var err error
		c, err = t.inner.CreatePix(ctx, req)
		return err
	})
	return c, err
}

func (t *timeoutGateway) CreateRecurring(ctx context.Context, req RecurringRequest) (*Charge, error) {
	var c *Charge
	err := t.call(ctx, "create_recurring", func(ctx context.Context) error {
		var err error
		c, err = t.inner.CreateRecurring(ctx, req)
		return err
	})
	return c, err
}

func (t *timeoutGateway) GetStatus(ctx context.Context, reference string) (ChargeStatus, error) {
	var s ChargeStatus
	err := t.call(ctx, "get_status", func(ctx context.Context) error {
		var err error
		s, err = t.inner.GetStatus(ctx, reference)
		return err
	})
	return s, err
}

func (t *timeoutGateway) Cancel(ctx context.Context, reference string) error {
	return t.call(ctx, "cancel", func(ctx context.Context) error { return t.inner.Cancel(ctx, reference) })
}

func (t *timeoutGateway) Pause(ctx context.Context, reference string) error {
	return t.call(ctx, "pause", func(ctx context.Context) error { return t.inner.Pause(ctx, reference) })
}

func (t *timeoutGateway) Resume(ctx context.Context, reference string) error {
	return t.call(ctx, "resume", func(ctx context.Context) error { return t.inner.Resume(ctx, reference) })
}

func (t *timeoutGateway) Refund(ctx context.Context, reference string) error {
	return t.call(ctx, "refund", func(ctx context.Context) error { return t.inner.Refund(ctx, reference) })
}
