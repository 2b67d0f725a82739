package retention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreFor(t *testing.T) {
	t.Run("Fresh activity scores near the top", func(t *testing.T) {
		assert.Equal(t, 100, ScoreFor(0, 0))
		assert.Equal(t, 100, ScoreFor(0, 12))
	})

	t.Run("Recency decays the score", func(t *testing.T) {
		assert.Equal(t, 72, ScoreFor(7, 0))
		assert.Equal(t, 16, ScoreFor(21, 0))
		assert.Equal(t, 0, ScoreFor(30, 0))
	})

	t.Run("Frequency tops the score up", func(t *testing.T) {
		assert.Equal(t, 80, ScoreFor(7, 4))
		// Long gap but heavy recent history still lifts the floor.
		assert.Equal(t, 8, ScoreFor(30, 4))
	})

	t.Run("Never completed a class scores zero", func(t *testing.T) {
		assert.Equal(t, 0, ScoreFor(-1, 0))
		assert.Equal(t, 0, ScoreFor(-1, 10))
	})

	t.Run("Score is clamped to 0..100", func(t *testing.T) {
		assert.Equal(t, 100, ScoreFor(1, 50))
		assert.Equal(t, 0, ScoreFor(400, 0))
	})
}

func TestRiskFor(t *testing.T) {
	assert.Equal(t, RiskLow, RiskFor(100))
	assert.Equal(t, RiskLow, RiskFor(60))
	assert.Equal(t, RiskMedium, RiskFor(59))
	assert.Equal(t, RiskMedium, RiskFor(30))
	assert.Equal(t, RiskHigh, RiskFor(29))
	assert.Equal(t, RiskHigh, RiskFor(0))
}
