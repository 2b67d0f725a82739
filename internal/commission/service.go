package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/schedule"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

const occupancyWindowDays = 30

type Service interface {
	ProcessBookingCommission(ctx context.Context, bookingID int) (*CommissionEntry, error)
	RecomputeSplitSuggestions(ctx context.Context) (*SuggestionStats, error)
	ApplySplitSuggestion(ctx context.Context, configID, adminID int) error
	RejectSplitSuggestion(ctx context.Context, configID, adminID int) error
	GenerateMonthlyPayouts(ctx context.Context, month, year int) ([]PayoutBatch, error)
	ApprovePayout(ctx context.Context, batchID int) error
	MarkPayoutPaid(ctx context.Context, batchID int, paymentReference *string) error
	GetCollaboratorStatement(ctx context.Context, professionalID, month, year int) (*Statement, error)
	CancelForBooking(ctx context.Context, bookingID int) error
}

type service struct {
	db           *sqlx.DB
	repo         *Repository
	scheduleRepo *schedule.Repository
	userRepo     *user.Repository
	notifier     notification.Notifier
	// Value of one credit in reais; multiplied by cost_at_booking.
	creditValue decimal.Decimal
}

func NewService(database *sqlx.DB, repo *Repository, scheduleRepo *schedule.Repository, userRepo *user.Repository, notifier notification.Notifier, creditValueReais string) Service {
	cv, err := decimal.NewFromString(creditValueReais)
	if err != nil {
		logger.Errorf("Invalid credit value %q, falling back to 1.00: %v", creditValueReais, err)
		cv = decimal.NewFromInt(1)
	}
	return &service{
		db:           database,
		repo:         repo,
		scheduleRepo: scheduleRepo,
		userRepo:     userRepo,
		notifier:     notifier,
		creditValue:  cv,
	}
}

// ProcessBookingCommission turns a finalized booking into a commission
// entry priced at the schedule's split as of now. Nutritionist no-shows
// produce no entry. Idempotent: a second call for the same booking returns
// the existing row.
func (s *service) ProcessBookingCommission(ctx context.Context, bookingID int) (*CommissionEntry, error) {
	f, err := s.repo.GetFinalization(ctx, bookingID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "booking not found")
	}

	if f.BookingStatus != "completed" && f.BookingStatus != "no_show" {
		return nil, apperr.Newf(apperr.KindConflict, "booking %d is %s, not finalized", bookingID, f.BookingStatus)
	}

	// Nutritionist no-shows are not commissionable.
	if f.ProfessionalRole == string(user.RoleNutritionist) && f.BookingStatus == "no_show" {
		return nil, nil
	}

	var entry *CommissionEntry
	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		// Schedule lock: the authoritative read of the current split.
		if _, err := schedule.LockTx(ctx, tx, f.ScheduleID); err != nil {
			return err
		}

		academyPct, professionalPct := DefaultAcademyPct, DefaultProfessionalPct
		cfg, err := GetConfigForScheduleTx(ctx, tx, f.ScheduleID)
		if err != nil {
			return err
		}
		if cfg != nil {
			academyPct, professionalPct = cfg.AcademyPct, cfg.ProfessionalPct
		}

		creditValue := s.creditValue.Mul(decimal.NewFromInt(int64(f.CostAtBooking)))
		amountAcademy, amountProfessional := SplitAmounts(creditValue, academyPct)

		entry, err = InsertEntryTx(ctx, tx, &CommissionEntry{
			BookingID:          f.BookingID,
			ProfessionalID:     f.ProfessionalID,
			ScheduleID:         f.ScheduleID,
			CreditValue:        creditValue,
			AcademyPct:         academyPct,
			ProfessionalPct:    professionalPct,
			AmountAcademy:      amountAcademy,
			AmountProfessional: amountProfessional,
			BookingStatus:      f.BookingStatus,
		})
		return err
	})
	if err == ErrDuplicateEntry {
		return s.repo.GetEntryByBooking(ctx, bookingID)
	}
	if err != nil {
		return nil, err
	}

	metrics.CommissionEntriesTotal.WithLabelValues(f.BookingStatus).Inc()
	return entry, nil
}

// CancelForBooking branches the booking's entry to cancelled, e.g. when a
// finalized booking is reversed by an admin.
func (s *service) CancelForBooking(ctx context.Context, bookingID int) error {
	return db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return CancelEntryTx(ctx, tx, bookingID)
	})
}

// RecomputeSplitSuggestions classifies every active schedule's 30-day
// occupancy and records split suggestions where the target differs from
// the current configuration. Manual overrides only get their observation
// refreshed; nothing is ever auto-applied.
func (s *service) RecomputeSplitSuggestions(ctx context.Context) (*SuggestionStats, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("split_suggestions").Observe(time.Since(start).Seconds())
	}()

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	schedules, err := s.scheduleRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	stats := &SuggestionStats{}
	for _, sch := range schedules {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		stats.SchedulesScanned++
		if err := s.recomputeOne(ctx, sch.ID, settings, stats); err != nil {
			stats.Errors++
			logger.Errorf("Split recompute: schedule %d failed: %v", sch.ID, err)
		}
	}

	logger.Infof("Split recompute: %d scanned, %d suggested, %d refreshed, %d manual-override, %d errors",
		stats.SchedulesScanned, stats.Suggested, stats.Refreshed, stats.Skipped, stats.Errors)
	return stats, nil
}

func (s *service) recomputeOne(ctx context.Context, scheduleID int, settings *SplitSettings, stats *SuggestionStats) error {
	occupancy, err := s.repo.Occupancy(ctx, scheduleID, occupancyWindowDays)
	if err != nil {
		return err
	}

	level := settings.Classify(occupancy)
	targetAcademy, targetProfessional := settings.TargetFor(level)

	return db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := schedule.LockTx(ctx, tx, scheduleID); err != nil {
			return err
		}

		cfg, err := GetConfigForScheduleTx(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		if cfg == nil {
			// No policy for this slot; just cache the observation.
			stats.Refreshed++
			return UpdateScheduleOccupancyTx(ctx, tx, scheduleID, occupancy)
		}

		if err := UpdateScheduleOccupancyTx(ctx, tx, scheduleID, occupancy); err != nil {
			return err
		}

		if cfg.IsManualOverride {
			stats.Skipped++
			return RefreshObservationTx(ctx, tx, cfg.ID, level, occupancy)
		}

		if cfg.AcademyPct == targetAcademy && cfg.ProfessionalPct == targetProfessional {
			stats.Refreshed++
			return RefreshObservationTx(ctx, tx, cfg.ID, level, occupancy)
		}

		stats.Suggested++
		return StoreSuggestionTx(ctx, tx, cfg.ID, targetAcademy, targetProfessional, level, occupancy)
	})
}

// ApplySplitSuggestion flips the pending suggestion into the live split.
// Admin-only at the boundary.
func (s *service) ApplySplitSuggestion(ctx context.Context, configID, adminID int) error {
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		cfg, err := ApplySuggestionTx(ctx, tx, configID)
		if err != nil {
			if err == ErrConfigNotFound {
				return apperr.New(apperr.KindNotFound, "no pending suggestion for configuration")
			}
			return err
		}
		return UpdateScheduleSplitRateTx(ctx, tx, cfg.ScheduleID, cfg.ProfessionalPct)
	})
	if err != nil {
		return err
	}

	logger.Infof("Split suggestion %d applied by admin %d", configID, adminID)
	return nil
}

func (s *service) RejectSplitSuggestion(ctx context.Context, configID, adminID int) error {
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := RejectSuggestionTx(ctx, tx, configID); err != nil {
			if err == ErrConfigNotFound {
				return apperr.New(apperr.KindNotFound, "no pending suggestion for configuration")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Infof("Split suggestion %d rejected by admin %d", configID, adminID)
	return nil
}

// GenerateMonthlyPayouts batches each professional's pending entries for
// the period and moves the batches draft -> pending.
func (s *service) GenerateMonthlyPayouts(ctx context.Context, month, year int) ([]PayoutBatch, error) {
	professionals, err := s.repo.ProfessionalsWithPending(ctx, month, year)
	if err != nil {
		return nil, err
	}

	var batches []PayoutBatch
	for _, professionalID := range professionals {
		select {
		case <-ctx.Done():
			return batches, ctx.Err()
		default:
		}

		var batch *PayoutBatch
		err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
			var err error
			batch, err = GetOrCreateBatchTx(ctx, tx, professionalID, month, year)
			if err != nil {
				return err
			}
			if batch.Status != BatchDraft && batch.Status != BatchPending {
				// Period already approved or paid; leave it alone.
				return apperr.Newf(apperr.KindConflict, "batch %d is %s", batch.ID, batch.Status)
			}

			if _, err := AssignEntriesTx(ctx, tx, batch.ID, professionalID, month, year); err != nil {
				return err
			}

			total, count, err := RecomputeBatchTotalsTx(ctx, tx, batch.ID)
			if err != nil {
				return err
			}
			batch.TotalAmount, batch.EntriesCount = total, count

			if batch.Status == BatchDraft {
				if err := TransitionBatchTx(ctx, tx, batch.ID, BatchDraft, BatchPending); err != nil {
					return err
				}
				batch.Status = BatchPending
			}
			return nil
		})
		if err != nil {
			logger.Errorf("Payout generation for professional %d failed: %v", professionalID, err)
			continue
		}

		metrics.PayoutBatchesTotal.WithLabelValues(string(BatchPending)).Inc()
		batches = append(batches, *batch)
	}

	return batches, nil
}

func (s *service) ApprovePayout(ctx context.Context, batchID int) error {
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err := LockBatchTx(ctx, tx, batchID)
		if err != nil {
			return apperr.New(apperr.KindNotFound, "payout batch not found")
		}
		if b.Status != BatchPending {
			return apperr.Newf(apperr.KindConflict, "batch is %s, expected pending", b.Status)
		}
		if err := TransitionBatchTx(ctx, tx, batchID, BatchPending, BatchApproved); err != nil {
			return err
		}
		return ApproveBatchEntriesTx(ctx, tx, batchID)
	})
	if err != nil {
		return err
	}

	metrics.PayoutBatchesTotal.WithLabelValues(string(BatchApproved)).Inc()
	return nil
}

// MarkPayoutPaid pays the batch in two phases: first it is claimed into
// processing, then settled to paid with its entries in lockstep. A
// settlement failure parks the batch in failed, where a retry can pick
// it up.
func (s *service) MarkPayoutPaid(ctx context.Context, batchID int, paymentReference *string) error {
	var batch *PayoutBatch
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		b, err := LockBatchTx(ctx, tx, batchID)
		if err != nil {
			return apperr.New(apperr.KindNotFound, "payout batch not found")
		}
		switch b.Status {
		case BatchApproved, BatchFailed:
			if err := TransitionBatchTx(ctx, tx, batchID, b.Status, BatchProcessing); err != nil {
				return err
			}
		case BatchProcessing:
			// Resuming a run that died between the claim and the settle.
		default:
			return apperr.Newf(apperr.KindConflict, "batch is %s, expected approved, processing or failed", b.Status)
		}
		batch = b
		return nil
	})
	if err != nil {
		return err
	}

	metrics.PayoutBatchesTotal.WithLabelValues(string(BatchProcessing)).Inc()

	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return MarkBatchPaidTx(ctx, tx, batchID, paymentReference)
	})
	if err != nil {
		parkErr := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
			return TransitionBatchTx(ctx, tx, batchID, BatchProcessing, BatchFailed)
		})
		if parkErr != nil {
			logger.Errorf("Payout batch %d could not be parked as failed: %v", batchID, parkErr)
		}
		metrics.PayoutBatchesTotal.WithLabelValues(string(BatchFailed)).Inc()
		return err
	}

	metrics.PayoutBatchesTotal.WithLabelValues(string(BatchPaid)).Inc()

	u, err := s.userRepo.FindByID(ctx, batch.ProfessionalID)
	if err == nil {
		_ = s.notifier.SendTemplated(ctx,
			notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
			notification.TplPayoutPaid,
			map[string]string{
				"month":  fmt.Sprintf("%02d", batch.Month),
				"year":   fmt.Sprintf("%d", batch.Year),
				"amount": batch.TotalAmount.StringFixed(2),
			})
	}
	return nil
}

func (s *service) GetCollaboratorStatement(ctx context.Context, professionalID, month, year int) (*Statement, error) {
	entries, err := s.repo.ListEntriesForPeriod(ctx, professionalID, month, year)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, e := range entries {
		if e.Status != EntryCancelled {
			total = total.Add(e.AmountProfessional)
		}
	}

	batch, err := s.repo.GetBatchForPeriod(ctx, professionalID, month, year)
	if err != nil {
		return nil, err
	}

	return &Statement{
		ProfessionalID: professionalID,
		Month:          month,
		Year:           year,
		Entries:        entries,
		Total:          total,
		Batch:          batch,
	}, nil
}
