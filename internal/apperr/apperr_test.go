package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Run("Typed error returns its kind", func(t *testing.T) {
		err := New(KindInsufficientCredits, "need 3, have 1")
		assert.Equal(t, KindInsufficientCredits, KindOf(err))
	})

	t.Run("Wrapped typed error still matches", func(t *testing.T) {
		err := fmt.Errorf("booking: %w", New(KindBookingFull, "class is full"))
		assert.Equal(t, KindBookingFull, KindOf(err))
		assert.True(t, IsKind(err, KindBookingFull))
	})

	t.Run("Untyped error maps to internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
		assert.False(t, IsKind(errors.New("boom"), KindNotFound))
	})
}

func TestIs(t *testing.T) {
	t.Run("Same kind matches regardless of message", func(t *testing.T) {
		err := Newf(KindInsufficientXP, "need %d XP", 200)
		assert.ErrorIs(t, err, New(KindInsufficientXP, ""))
	})

	t.Run("Different kinds do not match", func(t *testing.T) {
		err := New(KindGenderMismatch, "slot is assigned to female")
		assert.NotErrorIs(t, err, New(KindBookingFull, ""))
	})
}

func TestInternal(t *testing.T) {
	cause := errors.New("pq: connection reset")
	err := Internal("wallet balance changed mid-debit", cause)

	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithReason(t *testing.T) {
	err := WithReason(KindRuleUnavailable, ReasonCooldown, "rule is cooling down")

	assert.Equal(t, KindRuleUnavailable, KindOf(err))
	assert.Equal(t, ReasonCooldown, err.Reason)
	assert.Contains(t, err.Error(), "cooldown")
}
