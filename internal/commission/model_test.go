package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitAmounts(t *testing.T) {
	t.Run("Shares always sum exactly to the value", func(t *testing.T) {
		values := []string{"1.00", "2.50", "33.35", "0.01", "99.99", "100.00"}
		pcts := []int{0, 20, 40, 50, 60, 100}

		for _, v := range values {
			value := decimal.RequireFromString(v)
			for _, pct := range pcts {
				academy, professional := SplitAmounts(value, pct)
				assert.True(t, academy.Add(professional).Equal(value),
					"value %s at %d%%: %s + %s", v, pct, academy, professional)
			}
		}
	})

	t.Run("Standard 40/60 split", func(t *testing.T) {
		academy, professional := SplitAmounts(decimal.RequireFromString("2.00"), 40)

		assert.True(t, academy.Equal(decimal.RequireFromString("0.80")), "academy %s", academy)
		assert.True(t, professional.Equal(decimal.RequireFromString("1.20")), "professional %s", professional)
	})

	t.Run("Bankers rounding on the academy share", func(t *testing.T) {
		// 0.05 * 50% = 0.025, which rounds to the even 0.02.
		academy, professional := SplitAmounts(decimal.RequireFromString("0.05"), 50)

		assert.True(t, academy.Equal(decimal.RequireFromString("0.02")), "academy %s", academy)
		assert.True(t, professional.Equal(decimal.RequireFromString("0.03")), "professional %s", professional)
	})
}

func testSettings() *SplitSettings {
	return &SplitSettings{
		LowThresholdPct:     40,
		HighThresholdPct:    80,
		LowAcademyPct:       20,
		LowProfessionalPct:  80,
		StdAcademyPct:       40,
		StdProfessionalPct:  60,
		HighAcademyPct:      60,
		HighProfessionalPct: 40,
	}
}

func TestSplitSettings_Classify(t *testing.T) {
	s := testSettings()

	cases := []struct {
		occupancy float64
		level     DemandLevel
	}{
		{0.0, DemandLow},
		{0.39, DemandLow},
		{0.40, DemandStandard}, // boundary is inclusive on the standard side
		{0.65, DemandStandard},
		{0.80, DemandStandard},
		{0.81, DemandHigh},
		{1.0, DemandHigh},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.level, s.Classify(tc.occupancy), "occupancy %.2f", tc.occupancy)
	}
}

func TestSplitSettings_TargetFor(t *testing.T) {
	s := testSettings()

	academy, professional := s.TargetFor(DemandLow)
	assert.Equal(t, 20, academy)
	assert.Equal(t, 80, professional)

	academy, professional = s.TargetFor(DemandStandard)
	assert.Equal(t, 40, academy)
	assert.Equal(t, 60, professional)

	academy, professional = s.TargetFor(DemandHigh)
	assert.Equal(t, 60, academy)
	assert.Equal(t, 40, professional)

	require.Equal(t, 100, academy+professional)
}
