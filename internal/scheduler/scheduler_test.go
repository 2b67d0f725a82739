package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/booking"
)

type fakeDistributor struct {
	dates []time.Time
	log   *[]string
}

func (f *fakeDistributor) DistributeForDate(ctx context.Context, date time.Time) (int, error) {
	f.dates = append(f.dates, date)
	*f.log = append(*f.log, "distribute")
	return 2, nil
}

type fakeBookings struct {
	booking.Service
	horizons []time.Time
	log      *[]string
}

func (f *fakeBookings) GenerateRecurring(ctx context.Context, horizon time.Time) (*booking.RecurringStats, error) {
	f.horizons = append(f.horizons, horizon)
	*f.log = append(*f.log, "generate")
	return &booking.RecurringStats{}, nil
}

func TestRecurringJobsDistributeGendersFirst(t *testing.T) {
	t.Run("Midnight job assigns today before generating", func(t *testing.T) {
		var log []string
		distribution := &fakeDistributor{log: &log}
		bookings := &fakeBookings{log: &log}
		s := &Scheduler{bookings: bookings, distribution: distribution}

		s.generateRecurringToday(context.Background())

		require.Equal(t, []string{"distribute", "generate"}, log)
		require.Len(t, distribution.dates, 1)
		assert.Equal(t, time.Now().Day(), distribution.dates[0].Day())
	})

	t.Run("Lookahead job covers all 28 dates before generating", func(t *testing.T) {
		var log []string
		distribution := &fakeDistributor{log: &log}
		bookings := &fakeBookings{log: &log}
		s := &Scheduler{bookings: bookings, distribution: distribution}

		s.generateRecurringLookahead(context.Background())

		require.Len(t, log, 29)
		assert.Equal(t, "generate", log[28], "generation runs after every distribution pass")
		require.Len(t, distribution.dates, 28)
		require.Len(t, bookings.horizons, 1)
		assert.WithinDuration(t, time.Now().AddDate(0, 0, 28), bookings.horizons[0], time.Minute)
	})
}
