package commission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrConfigNotFound = errors.New("split configuration not found")
	ErrBatchNotFound  = errors.New("payout batch not found")
	ErrDuplicateEntry = errors.New("commission entry already exists for booking")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const configColumns = `id, schedule_id, academy_pct, professional_pct, demand_level, occupancy_rate, suggested_academy_pct, suggested_professional_pct, suggested_demand_level, suggestion_pending, suggested_at, is_manual_override, updated_at`
const entryColumns = `id, booking_id, professional_id, schedule_id, credit_value, academy_pct, professional_pct, amount_academy, amount_professional, booking_status, status, payout_batch_id, created_at`
const batchColumns = `id, professional_id, month, year, total_amount, entries_count, status, payment_reference, created_at, updated_at`

// GetConfigForScheduleTx reads the split configuration under the schedule
// lock the caller already holds. Nil when no policy exists (defaults
// apply).
func GetConfigForScheduleTx(ctx context.Context, tx *sqlx.Tx, scheduleID int) (*SplitConfiguration, error) {
	var c SplitConfiguration
	err := tx.GetContext(ctx, &c, `SELECT `+configColumns+` FROM split_configurations WHERE schedule_id = $1`, scheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetConfig(ctx context.Context, configID int) (*SplitConfiguration, error) {
	var c SplitConfiguration
	err := r.db.GetContext(ctx, &c, `SELECT `+configColumns+` FROM split_configurations WHERE id = $1`, configID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetSettings(ctx context.Context) (*SplitSettings, error) {
	var s SplitSettings
	err := r.db.GetContext(ctx, &s, `
		SELECT id, low_threshold_pct, high_threshold_pct,
		       low_academy_pct, low_professional_pct,
		       std_academy_pct, std_professional_pct,
		       high_academy_pct, high_professional_pct
		FROM split_settings
		LIMIT 1
	`)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertEntryTx records a commission row. The unique constraint on
// booking_id makes the at-most-once guarantee hold across retries.
func InsertEntryTx(ctx context.Context, tx *sqlx.Tx, e *CommissionEntry) (*CommissionEntry, error) {
	var out CommissionEntry
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO commission_entries
			(booking_id, professional_id, schedule_id, credit_value, academy_pct, professional_pct,
			 amount_academy, amount_professional, booking_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		RETURNING `+entryColumns+`
	`, e.BookingID, e.ProfessionalID, e.ScheduleID, e.CreditValue, e.AcademyPct, e.ProfessionalPct,
		e.AmountAcademy, e.AmountProfessional, e.BookingStatus).StructScan(&out)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateEntry
		}
		return nil, err
	}
	return &out, nil
}

func (r *Repository) GetEntryByBooking(ctx context.Context, bookingID int) (*CommissionEntry, error) {
	var e CommissionEntry
	err := r.db.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM commission_entries WHERE booking_id = $1`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CancelEntryTx branches an entry to cancelled (booking reversal). Allowed
// from any non-paid state.
func CancelEntryTx(ctx context.Context, tx *sqlx.Tx, bookingID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE commission_entries
		SET status = 'cancelled'
		WHERE booking_id = $1 AND status IN ('pending', 'approved')
	`, bookingID)
	return err
}

// Occupancy computes Σ non-cancelled bookings / Σ capacity over the days
// in the trailing window whose weekday matches the schedule's.
func (r *Repository) Occupancy(ctx context.Context, scheduleID, windowDays int) (float64, error) {
	row := struct {
		Booked int `db:"booked"`
		Days   int `db:"days"`
		Cap    int `db:"cap"`
	}{}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			(SELECT COUNT(*)
			 FROM bookings b
			 WHERE b.schedule_id = s.id
			   AND b.status <> 'cancelled'
			   AND b.class_date >= CURRENT_DATE - make_interval(days => $2)
			   AND b.class_date < CURRENT_DATE) AS booked,
			(SELECT COUNT(*)
			 FROM generate_series(CURRENT_DATE - make_interval(days => $2), CURRENT_DATE - interval '1 day', interval '1 day') d
			 WHERE EXTRACT(DOW FROM d) = s.weekday) AS days,
			s.capacity AS cap
		FROM class_schedules s
		WHERE s.id = $1
	`, scheduleID, windowDays)
	if err != nil {
		return 0, err
	}

	denom := row.Days * row.Cap
	if denom == 0 {
		return 0, nil
	}
	return float64(row.Booked) / float64(denom), nil
}

// StoreSuggestionTx records a pending suggestion without applying it.
func StoreSuggestionTx(ctx context.Context, tx *sqlx.Tx, configID, academyPct, professionalPct int, level DemandLevel, occupancy float64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE split_configurations
		SET suggested_academy_pct = $1,
		    suggested_professional_pct = $2,
		    suggested_demand_level = $3,
		    suggestion_pending = true,
		    suggested_at = NOW(),
		    occupancy_rate = $4,
		    demand_level = $3,
		    updated_at = NOW()
		WHERE id = $5
	`, academyPct, professionalPct, level, occupancy, configID)
	return err
}

// RefreshObservationTx updates only the observed occupancy and demand
// level, leaving percentages and any pending suggestion alone.
func RefreshObservationTx(ctx context.Context, tx *sqlx.Tx, configID int, level DemandLevel, occupancy float64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE split_configurations
		SET occupancy_rate = $1, demand_level = $2, updated_at = NOW()
		WHERE id = $3
	`, occupancy, level, configID)
	return err
}

// ApplySuggestionTx flips the current percentages to the suggestion and
// clears it. Returns the applied professional pct for the schedule cache.
func ApplySuggestionTx(ctx context.Context, tx *sqlx.Tx, configID int) (*SplitConfiguration, error) {
	var c SplitConfiguration
	err := tx.QueryRowxContext(ctx, `
		UPDATE split_configurations
		SET academy_pct = suggested_academy_pct,
		    professional_pct = suggested_professional_pct,
		    demand_level = suggested_demand_level,
		    suggested_academy_pct = NULL,
		    suggested_professional_pct = NULL,
		    suggested_demand_level = NULL,
		    suggestion_pending = false,
		    suggested_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND suggestion_pending = true
		RETURNING `+configColumns+`
	`, configID).StructScan(&c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func RejectSuggestionTx(ctx context.Context, tx *sqlx.Tx, configID int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE split_configurations
		SET suggested_academy_pct = NULL,
		    suggested_professional_pct = NULL,
		    suggested_demand_level = NULL,
		    suggestion_pending = false,
		    suggested_at = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND suggestion_pending = true
	`, configID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConfigNotFound
	}
	return nil
}

func UpdateScheduleSplitRateTx(ctx context.Context, tx *sqlx.Tx, scheduleID, professionalPct int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE class_schedules
		SET current_split_rate = $1
		WHERE id = $2
	`, professionalPct, scheduleID)
	return err
}

func UpdateScheduleOccupancyTx(ctx context.Context, tx *sqlx.Tx, scheduleID int, occupancy float64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE class_schedules
		SET avg_occupancy_rate = $1
		WHERE id = $2
	`, occupancy, scheduleID)
	return err
}

// ProfessionalsWithPending lists professionals holding pending entries in
// the month.
func (r *Repository) ProfessionalsWithPending(ctx context.Context, month, year int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT professional_id
		FROM commission_entries
		WHERE status = 'pending'
		  AND payout_batch_id IS NULL
		  AND EXTRACT(MONTH FROM created_at) = $1
		  AND EXTRACT(YEAR FROM created_at) = $2
		ORDER BY professional_id
	`, month, year)
	return ids, err
}

// LockBatchTx takes the batch row lock. Last lock in the protocol.
func LockBatchTx(ctx context.Context, tx *sqlx.Tx, batchID int) (*PayoutBatch, error) {
	var b PayoutBatch
	err := tx.GetContext(ctx, &b, `SELECT `+batchColumns+` FROM payout_batches WHERE id = $1 FOR UPDATE`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetOrCreateBatchTx finds the month's batch for a professional, creating
// a draft when absent, and locks it.
func GetOrCreateBatchTx(ctx context.Context, tx *sqlx.Tx, professionalID, month, year int) (*PayoutBatch, error) {
	var b PayoutBatch
	err := tx.GetContext(ctx, &b, `
		SELECT `+batchColumns+`
		FROM payout_batches
		WHERE professional_id = $1 AND month = $2 AND year = $3
		FOR UPDATE
	`, professionalID, month, year)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payout_batches (professional_id, month, year, total_amount, entries_count, status)
		VALUES ($1, $2, $3, 0, 0, 'draft')
		RETURNING `+batchColumns+`
	`, professionalID, month, year).StructScan(&b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AssignEntriesTx moves the period's unassigned pending entries into the
// batch.
func AssignEntriesTx(ctx context.Context, tx *sqlx.Tx, batchID, professionalID, month, year int) (int, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE commission_entries
		SET payout_batch_id = $1
		WHERE professional_id = $2
		  AND status = 'pending'
		  AND payout_batch_id IS NULL
		  AND EXTRACT(MONTH FROM created_at) = $3
		  AND EXTRACT(YEAR FROM created_at) = $4
	`, batchID, professionalID, month, year)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecomputeBatchTotalsTx refreshes the batch aggregate from its entries.
func RecomputeBatchTotalsTx(ctx context.Context, tx *sqlx.Tx, batchID int) (decimal.Decimal, int, error) {
	row := struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"count"`
	}{}
	err := tx.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(amount_professional), 0) AS total, COUNT(*) AS count
		FROM commission_entries
		WHERE payout_batch_id = $1 AND status <> 'cancelled'
	`, batchID).StructScan(&row)
	if err != nil {
		return decimal.Zero, 0, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payout_batches
		SET total_amount = $1, entries_count = $2, updated_at = NOW()
		WHERE id = $3
	`, row.Total, row.Count, batchID)
	return row.Total, row.Count, err
}

func TransitionBatchTx(ctx context.Context, tx *sqlx.Tx, batchID int, from, to BatchStatus) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payout_batches
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, batchID, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// MarkBatchPaidTx settles a claimed batch and its entries in lockstep.
// Only a batch in processing can settle; the claim happens first via
// TransitionBatchTx.
func MarkBatchPaidTx(ctx context.Context, tx *sqlx.Tx, batchID int, paymentReference *string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE payout_batches
		SET status = 'paid', payment_reference = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'processing'
	`, paymentReference, batchID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBatchNotFound
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE commission_entries
		SET status = 'paid'
		WHERE payout_batch_id = $1 AND status IN ('pending', 'approved')
	`, batchID)
	return err
}

func ApproveBatchEntriesTx(ctx context.Context, tx *sqlx.Tx, batchID int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE commission_entries
		SET status = 'approved'
		WHERE payout_batch_id = $1 AND status = 'pending'
	`, batchID)
	return err
}

func (r *Repository) GetBatch(ctx context.Context, batchID int) (*PayoutBatch, error) {
	var b PayoutBatch
	err := r.db.GetContext(ctx, &b, `SELECT `+batchColumns+` FROM payout_batches WHERE id = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBatchForPeriod(ctx context.Context, professionalID, month, year int) (*PayoutBatch, error) {
	var b PayoutBatch
	err := r.db.GetContext(ctx, &b, `
		SELECT `+batchColumns+`
		FROM payout_batches
		WHERE professional_id = $1 AND month = $2 AND year = $3
	`, professionalID, month, year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListEntriesForPeriod returns a professional's entries in a month.
func (r *Repository) ListEntriesForPeriod(ctx context.Context, professionalID, month, year int) ([]CommissionEntry, error) {
	var entries []CommissionEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE professional_id = $1
		  AND EXTRACT(MONTH FROM created_at) = $2
		  AND EXTRACT(YEAR FROM created_at) = $3
		ORDER BY created_at
	`, professionalID, month, year)
	return entries, err
}

// BookingFinalization carries what the commission computation needs about
// a finalized booking.
type BookingFinalization struct {
	BookingID        int       `db:"booking_id"`
	UserID           int       `db:"user_id"`
	ScheduleID       int       `db:"schedule_id"`
	CostAtBooking    int       `db:"cost_at_booking"`
	BookingStatus    string    `db:"booking_status"`
	ProfessionalID   int       `db:"professional_id"`
	ProfessionalRole string    `db:"professional_role"`
	ClassDate        time.Time `db:"class_date"`
}

func (r *Repository) GetFinalization(ctx context.Context, bookingID int) (*BookingFinalization, error) {
	var f BookingFinalization
	err := r.db.GetContext(ctx, &f, `
		SELECT b.id AS booking_id,
		       b.user_id,
		       b.schedule_id,
		       b.cost_at_booking,
		       b.status AS booking_status,
		       b.class_date,
		       s.instructor_id AS professional_id,
		       u.role AS professional_role
		FROM bookings b
		JOIN class_schedules s ON s.id = b.schedule_id
		JOIN users u ON u.id = s.instructor_id
		WHERE b.id = $1
	`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
