package booking

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/commission"
	"github.com/Admsmartfit/academia-sub000/internal/schedule"
	"github.com/Admsmartfit/academia-sub000/internal/subscription"
	"github.com/Admsmartfit/academia-sub000/internal/user"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

// Wednesday.
var testNow = time.Date(2026, 9, 16, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*service, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	svc := NewService(
		sqlxDB,
		NewRepository(sqlxDB),
		schedule.NewRepository(sqlxDB),
		user.NewRepository(sqlxDB),
		subscription.NewRepository(sqlxDB),
		nil, nil, nil,
		DefaultPolicy(time.UTC),
	).(*service)
	svc.now = func() time.Time { return testNow }

	return svc, mock, func() { sqlxDB.Close() }
}

var scheduleWithModalityCols = []string{
	"id", "modality_id", "instructor_id", "weekday", "start_time", "end_time",
	"capacity", "active", "current_split_rate", "avg_occupancy_rate",
	"modality_name", "credits_cost", "requires_screening", "gender_segregated", "instructor_role",
}

func scheduleRow(weekday int, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(scheduleWithModalityCols).
		AddRow(3, 1, 2, weekday, "10:00:00", "11:00:00", 10, active, 60.0, 0.5,
			"CrossFit", 2, nil, false, "instructor")
}

func TestBookClass_Validation(t *testing.T) {
	t.Run("Past dates are rejected before any read", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		_, err := svc.BookClass(context.Background(), BookRequest{
			UserID:     7,
			ScheduleID: 3,
			Date:       testNow.AddDate(0, 0, -1),
		})

		assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Date on the wrong weekday is rejected", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		// Slot runs on Mondays, request is for a Thursday.
		mock.ExpectQuery(regexp.QuoteMeta("JOIN modalities m")).
			WithArgs(3).
			WillReturnRows(scheduleRow(1, true))

		_, err := svc.BookClass(context.Background(), BookRequest{
			UserID:     7,
			ScheduleID: 3,
			Date:       time.Date(2026, 9, 17, 0, 0, 0, 0, time.UTC),
		})

		assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Inactive schedule reads as not found", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("JOIN modalities m")).
			WithArgs(3).
			WillReturnRows(scheduleRow(3, false))

		_, err := svc.BookClass(context.Background(), BookRequest{
			UserID:     7,
			ScheduleID: 3,
			Date:       time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC),
		})

		assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

var bookingCols = []string{
	"id", "user_id", "schedule_id", "class_date", "status", "cost_at_booking",
	"source", "subscription_id", "xp_earned", "checkin_at", "cancelled_at", "created_at",
}

func confirmedBookingRow(userID int, classDate time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(bookingCols).
		AddRow(42, userID, 3, classDate, "confirmed", 2, "wallet", nil, 0, nil, nil, testNow.AddDate(0, 0, -2))
}

func TestCancelBooking(t *testing.T) {
	classDate := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)

	t.Run("Window passed blocks the cancel before any write", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
			WithArgs(42).
			WillReturnRows(confirmedBookingRow(7, classDate))
		// Class starts at 10:00, now is 09:00: one hour left against a
		// two hour window. No transaction may open.
		mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE id = $1")).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "modality_id", "instructor_id", "weekday", "start_time", "end_time",
				"capacity", "active", "current_split_rate", "avg_occupancy_rate",
			}).AddRow(3, 1, 2, 3, "10:00:00", "11:00:00", 10, true, 60.0, 0.5))

		err := svc.CancelBooking(context.Background(), 7, 42, "changed plans")

		assert.True(t, apperr.IsKind(err, apperr.KindCancellationWindowPassed), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Only the owner can cancel", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
			WithArgs(42).
			WillReturnRows(confirmedBookingRow(99, classDate))

		err := svc.CancelBooking(context.Background(), 7, 42, "nope")

		assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Already finalized bookings cannot be cancelled", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
			WithArgs(42).
			WillReturnRows(sqlmock.NewRows(bookingCols).
				AddRow(42, 7, 3, classDate, "completed", 2, "wallet", nil, 10, testNow, nil, testNow.AddDate(0, 0, -2)))

		err := svc.CancelBooking(context.Background(), 7, 42, "too late")

		assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkNoShow_BeforeClassEnd(t *testing.T) {
	svc, mock, close := newTestService(t)
	defer close()

	classDate := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
		WithArgs(42).
		WillReturnRows(confirmedBookingRow(7, classDate))
	// Class ends at 11:00 and it is still 09:00.
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE id = $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "modality_id", "instructor_id", "weekday", "start_time", "end_time",
			"capacity", "active", "current_split_rate", "avg_occupancy_rate",
		}).AddRow(3, 1, 2, 3, "10:00:00", "11:00:00", 10, true, 60.0, 0.5))

	err := svc.MarkNoShow(context.Background(), 42)

	assert.True(t, apperr.IsKind(err, apperr.KindConflict), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var userCols = []string{
	"id", "name", "email", "password_hash", "role", "gender", "tax_id",
	"xp_available", "credits_balance", "active", "created_at", "updated_at",
}

func userRow(active bool) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow(7, "Ana", "ana@example.com", "hash", "student", nil, "12345678900",
			40, 8, active, testNow, testNow)
}

func TestBookClass_GatesUnderUserLock(t *testing.T) {
	classDate := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)

	t.Run("Inactive user is rejected inside the transaction", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("JOIN modalities m")).
			WithArgs(3).
			WillReturnRows(scheduleRow(3, true))

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(7).
			WillReturnRows(userRow(false))
		mock.ExpectRollback()

		_, err := svc.BookClass(context.Background(), BookRequest{
			UserID:     7,
			ScheduleID: 3,
			Date:       classDate,
		})

		assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing health screening blocks after the user row is locked", func(t *testing.T) {
		svc, mock, close := newTestService(t)
		defer close()

		mock.ExpectQuery(regexp.QuoteMeta("JOIN modalities m")).
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows(scheduleWithModalityCols).
				AddRow(3, 1, 2, 3, "10:00:00", "11:00:00", 10, true, 60.0, 0.5,
					"CrossFit", 2, "parq", false, "instructor"))

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(7).
			WillReturnRows(userRow(true))
		mock.ExpectQuery(regexp.QuoteMeta("FROM health_screenings")).
			WithArgs(7, "parq").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "user_id", "kind", "expires_at", "blocked", "created_at",
			}))
		mock.ExpectRollback()

		_, err := svc.BookClass(context.Background(), BookRequest{
			UserID:     7,
			ScheduleID: 3,
			Date:       classDate,
		})

		assert.True(t, apperr.IsKind(err, apperr.KindHealthScreeningRequired), "got %v", err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

type stubCommissions struct{ bookingID int }

func (s *stubCommissions) ProcessBookingCommission(ctx context.Context, bookingID int) (*commission.CommissionEntry, error) {
	s.bookingID = bookingID
	return nil, nil
}

type stubSweeper struct{ userID int }

func (s *stubSweeper) CheckAutomaticConversions(ctx context.Context, userID int) (int, error) {
	s.userID = userID
	return 0, nil
}

func TestCheckin_EarlyBirdFirstOfDay(t *testing.T) {
	svc, mock, close := newTestService(t)
	defer close()

	commissions := &stubCommissions{}
	sweeper := &stubSweeper{}
	svc.commissions = commissions
	svc.sweeper = sweeper

	classDate := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1")).
		WithArgs(42).
		WillReturnRows(confirmedBookingRow(7, classDate))
	// 06:30 start: early bird applies.
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_schedules WHERE id = $1")).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "modality_id", "instructor_id", "weekday", "start_time", "end_time",
			"capacity", "active", "current_split_rate", "avg_occupancy_rate",
		}).AddRow(3, 1, 2, 3, "06:30:00", "07:30:00", 10, true, 60.0, 0.5))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(7).
		WillReturnRows(userRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = $1 FOR UPDATE")).
		WithArgs(42).
		WillReturnRows(confirmedBookingRow(7, classDate))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(7, "2026-09-16").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	// Base 10, early bird +3, first of the day +5.
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'completed', checkin_at = NOW()")).
		WithArgs(18, 42).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO xp_ledger")).
		WithArgs(7, 18, xp.SourceBooking, 42, xp.ValidityDays).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "xp_amount", "converted_amount", "source", "source_id", "earned_at", "expires_at",
		}).AddRow(5, 7, 18, 0, xp.SourceBooking, 42, testNow, testNow.AddDate(0, 0, xp.ValidityDays)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET")).
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.Checkin(context.Background(), 42)

	require.NoError(t, err)
	assert.Equal(t, 42, commissions.bookingID)
	assert.Equal(t, 7, sweeper.userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
