package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrScheduleNotFound = errors.New("class schedule not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const scheduleColumns = `id, modality_id, instructor_id, weekday, start_time, end_time, capacity, active, current_split_rate, avg_occupancy_rate`

func (r *Repository) GetByID(ctx context.Context, id int) (*ClassSchedule, error) {
	var s ClassSchedule
	err := r.db.GetContext(ctx, &s, `SELECT `+scheduleColumns+` FROM class_schedules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) GetWithModality(ctx context.Context, id int) (*ScheduleWithModality, error) {
	var s ScheduleWithModality
	err := r.db.GetContext(ctx, &s, `
		SELECT s.id, s.modality_id, s.instructor_id, s.weekday, s.start_time, s.end_time,
		       s.capacity, s.active, s.current_split_rate, s.avg_occupancy_rate,
		       m.name AS modality_name,
		       m.credits_cost,
		       m.requires_screening,
		       m.gender_segregated,
		       u.role AS instructor_role
		FROM class_schedules s
		JOIN modalities m ON m.id = s.modality_id
		JOIN users u ON u.id = s.instructor_id
		WHERE s.id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) ListActive(ctx context.Context) ([]ClassSchedule, error) {
	var schedules []ClassSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT `+scheduleColumns+`
		FROM class_schedules
		WHERE active = true
		ORDER BY weekday, start_time
	`)
	return schedules, err
}

func (r *Repository) ListSegregatedForWeekday(ctx context.Context, weekday int) ([]ClassSchedule, error) {
	var schedules []ClassSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT s.id, s.modality_id, s.instructor_id, s.weekday, s.start_time, s.end_time,
		       s.capacity, s.active, s.current_split_rate, s.avg_occupancy_rate
		FROM class_schedules s
		JOIN modalities m ON m.id = s.modality_id
		WHERE s.active = true AND s.weekday = $1 AND m.gender_segregated = true
		ORDER BY s.start_time
	`, weekday)
	return schedules, err
}

// LockTx acquires the schedule row lock. Second lock in the protocol,
// always after the user lock.
func LockTx(ctx context.Context, tx *sqlx.Tx, scheduleID int) (*ClassSchedule, error) {
	var s ClassSchedule
	err := tx.GetContext(ctx, &s, `
		SELECT `+scheduleColumns+`
		FROM class_schedules
		WHERE id = $1
		FOR UPDATE
	`, scheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GenderForDate returns the pinned gender of a segregated slot on a date,
// or nil when unassigned.
func (r *Repository) GenderForDate(ctx context.Context, scheduleID int, date time.Time) (*GenderDay, error) {
	var g GenderDay
	err := r.db.GetContext(ctx, &g, `
		SELECT schedule_id, date, gender, forced
		FROM slot_gender_days
		WHERE schedule_id = $1 AND date = $2
	`, scheduleID, date.Format("2006-01-02"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func GenderForDateTx(ctx context.Context, tx *sqlx.Tx, scheduleID int, date time.Time) (*GenderDay, error) {
	var g GenderDay
	err := tx.GetContext(ctx, &g, `
		SELECT schedule_id, date, gender, forced
		FROM slot_gender_days
		WHERE schedule_id = $1 AND date = $2
	`, scheduleID, date.Format("2006-01-02"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AssignGenderTx pins a slot date to a gender. First-booker-wins: an
// existing row is kept unless force is set.
func AssignGenderTx(ctx context.Context, tx *sqlx.Tx, scheduleID int, date time.Time, gender string, force bool) error {
	if force {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO slot_gender_days (schedule_id, date, gender, forced)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (schedule_id, date) DO UPDATE SET gender = $3, forced = true
		`, scheduleID, date.Format("2006-01-02"), gender)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO slot_gender_days (schedule_id, date, gender, forced)
		VALUES ($1, $2, $3, false)
		ON CONFLICT (schedule_id, date) DO NOTHING
	`, scheduleID, date.Format("2006-01-02"), gender)
	return err
}

// DominantGender returns the gender with more non-cancelled bookings on
// this slot over the trailing window, or nil on a tie or no data.
func (r *Repository) DominantGender(ctx context.Context, scheduleID, windowDays int) (*string, error) {
	row := struct {
		Male   int `db:"male"`
		Female int `db:"female"`
	}{}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) FILTER (WHERE u.gender = 'male')   AS male,
			COUNT(*) FILTER (WHERE u.gender = 'female') AS female
		FROM bookings b
		JOIN users u ON u.id = b.user_id
		WHERE b.schedule_id = $1
		  AND b.status <> 'cancelled'
		  AND b.class_date >= CURRENT_DATE - make_interval(days => $2)
	`, scheduleID, windowDays)
	if err != nil {
		return nil, err
	}

	if row.Male > row.Female {
		g := "male"
		return &g, nil
	}
	if row.Female > row.Male {
		g := "female"
		return &g, nil
	}
	return nil, nil
}

// HasConfirmedBooking reports whether any confirmed booking pins this slot
// date already.
func (r *Repository) HasConfirmedBooking(ctx context.Context, scheduleID int, date time.Time) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE schedule_id = $1 AND class_date = $2 AND status = 'confirmed'
		)
	`, scheduleID, date.Format("2006-01-02"))
	return exists, err
}
