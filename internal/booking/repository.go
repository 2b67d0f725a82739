package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrBookingNotFound = errors.New("booking not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const bookingColumns = `id, user_id, schedule_id, class_date, status, cost_at_booking, source, subscription_id, xp_earned, checkin_at, cancelled_at, created_at`

func (r *Repository) GetByID(ctx context.Context, id int) (*Booking, error) {
	var b Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID int) ([]Booking, error) {
	var bookings []Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE user_id = $1
		ORDER BY class_date DESC, created_at DESC
	`, userID)
	return bookings, err
}

// CountConfirmedTx counts confirmed bookings for a slot date. Must run
// after the schedule lock is held; the pre-lock count is advisory only.
func CountConfirmedTx(ctx context.Context, tx *sqlx.Tx, scheduleID int, date time.Time) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, `
		SELECT COUNT(*)
		FROM bookings
		WHERE schedule_id = $1 AND class_date = $2 AND status = 'confirmed'
	`, scheduleID, date.Format("2006-01-02"))
	return count, err
}

// HasDuplicateTx reports an existing confirmed/completed booking by the
// user for the slot date.
func HasDuplicateTx(ctx context.Context, tx *sqlx.Tx, userID, scheduleID int, date time.Time) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE user_id = $1 AND schedule_id = $2 AND class_date = $3
			  AND status IN ('confirmed', 'completed')
		)
	`, userID, scheduleID, date.Format("2006-01-02"))
	return exists, err
}

// HasTimeClashTx reports another confirmed booking by the user at the same
// start time on the date.
func HasTimeClashTx(ctx context.Context, tx *sqlx.Tx, userID int, date time.Time, startTime string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1
			FROM bookings b
			JOIN class_schedules s ON s.id = b.schedule_id
			WHERE b.user_id = $1
			  AND b.class_date = $2
			  AND b.status = 'confirmed'
			  AND s.start_time = $3
		)
	`, userID, date.Format("2006-01-02"), startTime)
	return exists, err
}

func InsertTx(ctx context.Context, tx *sqlx.Tx, req BookRequest, cost int, source CreditSource) (*Booking, error) {
	var b Booking
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO bookings (user_id, schedule_id, class_date, status, cost_at_booking, source, subscription_id)
		VALUES ($1, $2, $3, 'confirmed', $4, $5, $6)
		RETURNING `+bookingColumns+`
	`, req.UserID, req.ScheduleID, req.Date.Format("2006-01-02"), cost, source, req.SubscriptionID).StructScan(&b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id int) (*Booking, error) {
	var b Booking
	err := tx.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// MarkCancelledTx flips a confirmed booking to cancelled.
func MarkCancelledTx(ctx context.Context, tx *sqlx.Tx, id int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE id = $1 AND status = 'confirmed'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// MarkCompletedTx stamps the check-in and the XP awarded for it.
func MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id, xpEarned int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'completed', checkin_at = NOW(), xp_earned = $1
		WHERE id = $2 AND status = 'confirmed'
	`, xpEarned, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

func MarkNoShowTx(ctx context.Context, tx *sqlx.Tx, id int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'no_show'
		WHERE id = $1 AND status = 'confirmed'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// HasCompletedOnDateTx reports whether the user already completed a
// booking on the calendar day. Feeds the first-of-day XP bonus.
func HasCompletedOnDateTx(ctx context.Context, tx *sqlx.Tx, userID int, date time.Time) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE user_id = $1 AND class_date = $2 AND status = 'completed'
		)
	`, userID, date.Format("2006-01-02"))
	return exists, err
}

// ListConfirmedBetween returns confirmed bookings whose class start falls
// in [from, to), joined with what a reminder needs.
func (r *Repository) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]ReminderRow, error) {
	var rows []ReminderRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT b.id AS booking_id,
		       b.user_id,
		       u.name AS user_name,
		       u.email AS user_email,
		       m.name AS modality_name,
		       (b.class_date + s.start_time) AS class_start
		FROM bookings b
		JOIN class_schedules s ON s.id = b.schedule_id
		JOIN modalities m ON m.id = s.modality_id
		JOIN users u ON u.id = b.user_id
		WHERE b.status = 'confirmed'
		  AND (b.class_date + s.start_time) >= $1
		  AND (b.class_date + s.start_time) < $2
		ORDER BY class_start
	`, from, to)
	return rows, err
}

// ListConfirmedPastEnd returns confirmed bookings whose class already
// ended, candidates for the automatic no-show pass.
func (r *Repository) ListConfirmedPastEnd(ctx context.Context, now time.Time) ([]Booking, error) {
	var bookings []Booking
	err := r.db.SelectContext(ctx, &bookings, `
		SELECT b.id, b.user_id, b.schedule_id, b.class_date, b.status, b.cost_at_booking,
		       b.source, b.subscription_id, b.xp_earned, b.checkin_at, b.cancelled_at, b.created_at
		FROM bookings b
		JOIN class_schedules s ON s.id = b.schedule_id
		WHERE b.status = 'confirmed'
		  AND (b.class_date + s.end_time) < $1
		ORDER BY b.class_date, b.id
	`, now)
	return bookings, err
}

func (r *Repository) CountCompleted(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM bookings WHERE user_id = $1 AND status = 'completed'
	`, userID)
	return count, err
}

// ListDueRecurring returns active recurring bookings with an occurrence
// due on or before the horizon.
func (r *Repository) ListDueRecurring(ctx context.Context, horizon time.Time) ([]RecurringBooking, error) {
	var recurrings []RecurringBooking
	err := r.db.SelectContext(ctx, &recurrings, `
		SELECT id, user_id, subscription_id, schedule_id, frequency_days, next_occurrence, last_created, end_date, active
		FROM recurring_bookings
		WHERE active = true
		  AND next_occurrence <= $1
		  AND (end_date IS NULL OR next_occurrence <= end_date)
		ORDER BY next_occurrence, id
	`, horizon.Format("2006-01-02"))
	return recurrings, err
}

// AdvanceRecurrence pushes next_occurrence forward by the cadence,
// stamping last_created only when a booking was made. Skipped occurrences
// advance too.
func (r *Repository) AdvanceRecurrence(ctx context.Context, id int, created bool) error {
	if created {
		_, err := r.db.ExecContext(ctx, `
			UPDATE recurring_bookings
			SET last_created = next_occurrence,
			    next_occurrence = next_occurrence + make_interval(days => frequency_days)
			WHERE id = $1
		`, id)
		return err
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE recurring_bookings
		SET next_occurrence = next_occurrence + make_interval(days => frequency_days)
		WHERE id = $1
	`, id)
	return err
}

// DeactivateRecurring turns off series whose end date has passed.
func (r *Repository) DeactivateRecurring(ctx context.Context, today time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_bookings
		SET active = false
		WHERE active = true AND end_date IS NOT NULL AND end_date < $1
	`, today.Format("2006-01-02"))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
