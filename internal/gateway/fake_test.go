package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
)

func TestFake_ChargeLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()

	charge, err := fake.CreatePix(ctx, ChargeRequest{
		Reference: "sub-1-inst-1",
		UserTaxID: "12345678900",
		Amount:    decimal.RequireFromString("149.90"),
		DueDate:   time.Now().AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, charge.Status)
	assert.NotEmpty(t, charge.PixCode)
	assert.NotEmpty(t, charge.ExternalID)

	t.Run("Webhook confirmation flips to paid", func(t *testing.T) {
		require.NoError(t, fake.MarkPaid("sub-1-inst-1"))

		status, err := fake.GetStatus(ctx, "sub-1-inst-1")
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, status)
	})

	t.Run("Refund after payment", func(t *testing.T) {
		require.NoError(t, fake.Refund(ctx, "sub-1-inst-1"))

		status, _ := fake.GetStatus(ctx, "sub-1-inst-1")
		assert.Equal(t, StatusRefunded, status)
	})

	t.Run("Unknown reference is not found", func(t *testing.T) {
		_, err := fake.GetStatus(ctx, "nope")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

		assert.True(t, apperr.IsKind(fake.Cancel(ctx, "nope"), apperr.KindNotFound))
	})
}

func TestFake_CancelPending(t *testing.T) {
	ctx := context.Background()
	fake := NewFake()

	_, err := fake.CreateRecurring(ctx, RecurringRequest{
		Reference:   "rec-9",
		Amount:      decimal.RequireFromString("99.00"),
		IntervalDay: 5,
	})
	require.NoError(t, err)

	require.NoError(t, fake.Cancel(ctx, "rec-9"))

	status, err := fake.GetStatus(ctx, "rec-9")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)
}

// slowGateway blocks every call until its context is cancelled.
type slowGateway struct{ Fake }

func (s *slowGateway) GetStatus(ctx context.Context, reference string) (ChargeStatus, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	t.Run("Deadline surfaces as external_timeout", func(t *testing.T) {
		g := WithTimeout(&slowGateway{}, 10*time.Millisecond)

		_, err := g.GetStatus(context.Background(), "ref")
		assert.True(t, apperr.IsKind(err, apperr.KindExternalTimeout), "got %v", err)
	})

	t.Run("Fast calls pass through untouched", func(t *testing.T) {
		fake := NewFake()
		g := WithTimeout(fake, time.Second)

		_, err := g.CreatePix(context.Background(), ChargeRequest{
			Reference: "quick",
			Amount:    decimal.NewFromInt(10),
		})
		require.NoError(t, err)

		status, err := g.GetStatus(context.Background(), "quick")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	})
}
