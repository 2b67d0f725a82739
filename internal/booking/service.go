package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/commission"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/schedule"
	"github.com/Admsmartfit/academia-sub000/internal/subscription"
	"github.com/Admsmartfit/academia-sub000/internal/user"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

// commissionProcessor is the finalization fan-out into the commission
// engine. Runs after the finalizing transaction commits.
type commissionProcessor interface {
	ProcessBookingCommission(ctx context.Context, bookingID int) (*commission.CommissionEntry, error)
}

// conversionSweeper runs the automatic XP conversion sweep after a grant.
type conversionSweeper interface {
	CheckAutomaticConversions(ctx context.Context, userID int) (int, error)
}

type Service interface {
	BookClass(ctx context.Context, req BookRequest) (*Booking, error)
	CancelBooking(ctx context.Context, userID, bookingID int, reason string) error
	Checkin(ctx context.Context, bookingID int) error
	MarkNoShow(ctx context.Context, bookingID int) error
	SweepNoShows(ctx context.Context) (int, error)
	GenerateRecurring(ctx context.Context, horizon time.Time) (*RecurringStats, error)
	SendClassReminders(ctx context.Context, lead, window time.Duration, templateKey string) (int, error)
}

type Policy struct {
	CancellationWindow time.Duration
	LateCancelGrace    time.Duration
	LateCancelXPPen    int
	Location           *time.Location
}

func DefaultPolicy(loc *time.Location) Policy {
	return Policy{
		CancellationWindow: 2 * time.Hour,
		LateCancelGrace:    time.Hour,
		LateCancelXPPen:    5,
		Location:           loc,
	}
}

type service struct {
	db           *sqlx.DB
	repo         *Repository
	scheduleRepo *schedule.Repository
	userRepo     *user.Repository
	subRepo      *subscription.Repository
	notifier     notification.Notifier
	commissions  commissionProcessor
	sweeper      conversionSweeper
	policy       Policy
	now          func() time.Time
}

func NewService(
	database *sqlx.DB,
	repo *Repository,
	scheduleRepo *schedule.Repository,
	userRepo *user.Repository,
	subRepo *subscription.Repository,
	notifier notification.Notifier,
	commissions commissionProcessor,
	sweeper conversionSweeper,
	policy Policy,
) Service {
	if policy.Location == nil {
		policy.Location = time.Local
	}
	return &service{
		db:           database,
		repo:         repo,
		scheduleRepo: scheduleRepo,
		userRepo:     userRepo,
		subRepo:      subRepo,
		notifier:     notifier,
		commissions:  commissions,
		sweeper:      sweeper,
		policy:       policy,
		now:          time.Now,
	}
}

// BookClass validates, debits, and records a reservation in a single
// transaction. Locks are taken user first, then schedule; the eligibility
// gates run under the user lock and the capacity count is repeated after
// both locks are held.
func (s *service) BookClass(ctx context.Context, req BookRequest) (*Booking, error) {
	today := truncateDay(s.now().In(s.policy.Location))
	reqDate := truncateDay(req.Date.In(s.policy.Location))
	if reqDate.Before(today) {
		return nil, apperr.New(apperr.KindConflict, "cannot book a class in the past")
	}

	sched, err := s.scheduleRepo.GetWithModality(ctx, req.ScheduleID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "class schedule not found")
	}
	if !sched.Active {
		return nil, apperr.New(apperr.KindNotFound, "class schedule is inactive")
	}
	if int(reqDate.Weekday()) != sched.Weekday {
		return nil, apperr.Newf(apperr.KindConflict, "schedule %d does not run on %s", sched.ID, reqDate.Weekday())
	}

	cost := sched.CreditsCost
	source := SourceWallet
	if req.SubscriptionID != nil {
		source = SourceSubscription
	}

	var u *user.User
	var booking *Booking
	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		u, err = user.LockTx(ctx, tx, req.UserID)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				return apperr.New(apperr.KindNotFound, "user not found")
			}
			return err
		}

		// Eligibility gates run under the user lock, so a deactivation or
		// screening revocation committed mid-booking cannot slip through.
		if !u.Active {
			return apperr.New(apperr.KindForbidden, "user is not active")
		}
		if sched.RequiresScreening != nil {
			status, err := user.ScreeningStatusForTx(ctx, tx, u.ID, *sched.RequiresScreening)
			if err != nil {
				return err
			}
			switch status {
			case user.ScreeningMissing:
				return apperr.Newf(apperr.KindHealthScreeningRequired, "modality requires a valid %s screening", *sched.RequiresScreening)
			case user.ScreeningBlocked:
				return apperr.New(apperr.KindHealthScreeningBlocked, "health screening blocks this modality")
			}
		}

		if _, err := schedule.LockTx(ctx, tx, req.ScheduleID); err != nil {
			return err
		}

		if sched.GenderSegregated {
			if err := s.checkAndPinGenderTx(ctx, tx, u, sched, reqDate); err != nil {
				return err
			}
		}

		// Authoritative capacity count, after both locks.
		confirmed, err := CountConfirmedTx(ctx, tx, req.ScheduleID, reqDate)
		if err != nil {
			return err
		}
		if confirmed >= sched.Capacity {
			return apperr.Newf(apperr.KindBookingFull, "class is full (%d/%d)", confirmed, sched.Capacity)
		}

		dup, err := HasDuplicateTx(ctx, tx, req.UserID, req.ScheduleID, reqDate)
		if err != nil {
			return err
		}
		if dup {
			return apperr.New(apperr.KindDuplicateBooking, "already booked for this class")
		}
		clash, err := HasTimeClashTx(ctx, tx, req.UserID, reqDate, sched.StartTime)
		if err != nil {
			return err
		}
		if clash {
			return apperr.New(apperr.KindDuplicateBooking, "another booking at the same time")
		}

		if req.SubscriptionID != nil {
			if err := s.debitSubscriptionTx(ctx, tx, *req.SubscriptionID, req.UserID, reqDate, cost); err != nil {
				return err
			}
		} else {
			if _, err := credits.DebitTx(ctx, tx, req.UserID, cost, fmt.Sprintf("booking schedule %d", req.ScheduleID)); err != nil {
				return err
			}
		}

		booking, err = InsertTx(ctx, tx, BookRequest{
			UserID:         req.UserID,
			ScheduleID:     req.ScheduleID,
			Date:           reqDate,
			SubscriptionID: req.SubscriptionID,
		}, cost, source)
		if err != nil {
			return err
		}

		return user.RefreshTotalsTx(ctx, tx, req.UserID)
	})
	if err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusConfirmed), string(source)).Inc()
	metrics.CreditsDebitedTotal.Add(float64(cost))

	s.notify(ctx, u, notification.TplBookingConfirmed, map[string]string{
		"class": sched.ModalityName,
		"date":  booking.ClassDate.Format("02/01/2006") + " " + sched.StartTime,
	})

	return booking, nil
}

func (s *service) debitSubscriptionTx(ctx context.Context, tx *sqlx.Tx, subscriptionID, userID int, date time.Time, cost int) error {
	sub, err := subscription.GetTx(ctx, tx, subscriptionID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "subscription not found")
	}
	if sub.UserID != userID {
		return apperr.New(apperr.KindForbidden, "subscription belongs to another user")
	}
	switch sub.Status {
	case subscription.StatusSuspended:
		return apperr.New(apperr.KindSubscriptionBlocked, "subscription is suspended")
	case subscription.StatusCancelled:
		return apperr.New(apperr.KindSubscriptionCancelled, "subscription is cancelled")
	case subscription.StatusExpired:
		return apperr.New(apperr.KindSubscriptionCancelled, "subscription is expired")
	}
	if date.After(sub.EndDate) {
		return apperr.New(apperr.KindConflict, "class date is past the subscription end date")
	}
	if sub.CreditsRemaining() < cost {
		return apperr.Newf(apperr.KindInsufficientCredits, "subscription has %d credits, needs %d", sub.CreditsRemaining(), cost)
	}
	return subscription.DebitTx(ctx, tx, subscriptionID, cost)
}

// checkAndPinGenderTx enforces segregation and pins the slot by the
// first-booker-wins rule when unassigned.
func (s *service) checkAndPinGenderTx(ctx context.Context, tx *sqlx.Tx, u *user.User, sched *schedule.ScheduleWithModality, date time.Time) error {
	if u.Gender == nil {
		return apperr.New(apperr.KindGenderMismatch, "modality is gender-segregated and user has no declared gender")
	}

	day, err := schedule.GenderForDateTx(ctx, tx, sched.ID, date)
	if err != nil {
		return err
	}
	if day != nil {
		if day.Gender != *u.Gender {
			return apperr.Newf(apperr.KindGenderMismatch, "slot is assigned to %s on this date", day.Gender)
		}
		return nil
	}

	return schedule.AssignGenderTx(ctx, tx, sched.ID, date, *u.Gender, false)
}

// CancelBooking refunds cost_at_booking to its origin when the
// cancellation window allows. A cancel inside the penalty band still goes
// through but costs XP.
func (s *service) CancelBooking(ctx context.Context, userID, bookingID int, reason string) error {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "booking not found")
	}
	if b.UserID != userID {
		return apperr.New(apperr.KindForbidden, "can only cancel own bookings")
	}
	if b.Status != StatusConfirmed {
		return apperr.Newf(apperr.KindConflict, "booking is %s", b.Status)
	}

	sched, err := s.scheduleRepo.GetByID(ctx, b.ScheduleID)
	if err != nil {
		return err
	}

	classAt := sched.ClassDateTime(b.ClassDate, s.policy.Location)
	remaining := classAt.Sub(s.now())
	if remaining < s.policy.CancellationWindow {
		return apperr.Newf(apperr.KindCancellationWindowPassed, "class starts in %s, window is %s", remaining.Round(time.Minute), s.policy.CancellationWindow)
	}
	lateCancel := remaining < s.policy.CancellationWindow+s.policy.LateCancelGrace

	penalized := 0
	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, userID); err != nil {
			return err
		}

		locked, err := GetForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if locked.Status != StatusConfirmed {
			return apperr.Newf(apperr.KindConflict, "booking is %s", locked.Status)
		}

		if err := MarkCancelledTx(ctx, tx, bookingID); err != nil {
			return err
		}

		// Refund goes back to the origin, at the captured price.
		if locked.Source == SourceSubscription && locked.SubscriptionID != nil {
			if err := s.refundSubscriptionTx(ctx, tx, *locked.SubscriptionID, userID, locked.CostAtBooking); err != nil {
				return err
			}
		} else {
			if _, err := credits.MintTx(ctx, tx, userID, locked.CostAtBooking, credits.SourceRefund, credits.RefundValidityDays); err != nil {
				return err
			}
		}

		if lateCancel && s.policy.LateCancelXPPen > 0 {
			penalized, err = xp.ConsumeUpToTx(ctx, tx, userID, s.policy.LateCancelXPPen)
			if err != nil {
				return err
			}
		}

		return user.RefreshTotalsTx(ctx, tx, userID)
	})
	if err != nil {
		return err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusCancelled), string(b.Source)).Inc()
	if penalized > 0 {
		logger.Infof("Late cancel of booking %d cost user %d %d XP", bookingID, userID, penalized)
	}

	if u, err := s.userRepo.FindByID(ctx, userID); err == nil {
		s.notify(ctx, u, notification.TplBookingCancelled, map[string]string{
			"class":   fmt.Sprintf("schedule %d", b.ScheduleID),
			"date":    b.ClassDate.Format("02/01/2006"),
			"credits": fmt.Sprintf("%d", b.CostAtBooking),
		})
	}

	return nil
}

// refundSubscriptionTx returns credits to the subscription when it is
// still active; otherwise the refund lands in a fresh 30-day wallet so the
// member never loses paid credits to a suspended plan.
func (s *service) refundSubscriptionTx(ctx context.Context, tx *sqlx.Tx, subscriptionID, userID, cost int) error {
	sub, err := subscription.GetTx(ctx, tx, subscriptionID)
	if err == nil && sub.Status == subscription.StatusActive {
		return subscription.RefundTx(ctx, tx, subscriptionID, cost)
	}

	_, err = credits.MintTx(ctx, tx, userID, cost, credits.SourceRefund, credits.RefundValidityDays)
	return err
}

// Checkin finalizes a booking as completed and awards XP: base 10, +3 for
// classes before 07:00, +5 for the first completed booking of the day.
// The commission fan-out and the conversion sweep run after commit.
func (s *service) Checkin(ctx context.Context, bookingID int) error {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "booking not found")
	}
	if b.Status != StatusConfirmed {
		return apperr.Newf(apperr.KindConflict, "booking is %s", b.Status)
	}

	sched, err := s.scheduleRepo.GetByID(ctx, b.ScheduleID)
	if err != nil {
		return err
	}

	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, b.UserID); err != nil {
			return err
		}

		locked, err := GetForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if locked.Status != StatusConfirmed {
			return apperr.Newf(apperr.KindConflict, "booking is %s", locked.Status)
		}

		award := XPBase
		classAt := sched.ClassDateTime(locked.ClassDate, s.policy.Location)
		if classAt.Hour() < EarlyBirdBefore {
			award += XPEarlyBird
		}
		alreadyCompletedToday, err := HasCompletedOnDateTx(ctx, tx, b.UserID, locked.ClassDate)
		if err != nil {
			return err
		}
		if !alreadyCompletedToday {
			award += XPFirstOfDay
		}

		if err := MarkCompletedTx(ctx, tx, bookingID, award); err != nil {
			return err
		}
		sourceID := bookingID
		if _, err := xp.GrantTx(ctx, tx, b.UserID, award, xp.SourceBooking, &sourceID); err != nil {
			return err
		}

		return user.RefreshTotalsTx(ctx, tx, b.UserID)
	})
	if err != nil {
		return err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusCompleted), string(b.Source)).Inc()
	s.finalize(ctx, bookingID, b.UserID)
	return nil
}

// MarkNoShow finalizes a booking as missed after its class end time. Also
// fans out to the commission engine (the nutritionist exception lives
// there).
func (s *service) MarkNoShow(ctx context.Context, bookingID int) error {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "booking not found")
	}
	if b.Status != StatusConfirmed {
		return apperr.Newf(apperr.KindConflict, "booking is %s", b.Status)
	}

	sched, err := s.scheduleRepo.GetByID(ctx, b.ScheduleID)
	if err != nil {
		return err
	}
	if s.now().Before(sched.ClassEndDateTime(b.ClassDate, s.policy.Location)) {
		return apperr.New(apperr.KindConflict, "class has not ended yet")
	}

	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, b.UserID); err != nil {
			return err
		}
		return MarkNoShowTx(ctx, tx, bookingID)
	})
	if err != nil {
		return err
	}

	metrics.BookingsTotal.WithLabelValues(string(StatusNoShow), string(b.Source)).Inc()
	s.finalize(ctx, bookingID, 0)
	return nil
}

// finalize fans a committed finalization out to the commission engine and
// the conversion sweep. Failures log and retry on the next scheduled pass;
// the state change stands.
func (s *service) finalize(ctx context.Context, bookingID, sweepUserID int) {
	if _, err := s.commissions.ProcessBookingCommission(ctx, bookingID); err != nil {
		logger.Errorf("Commission processing for booking %d failed: %v", bookingID, err)
	}
	if sweepUserID != 0 {
		if _, err := s.sweeper.CheckAutomaticConversions(ctx, sweepUserID); err != nil {
			logger.Errorf("Conversion sweep for user %d failed: %v", sweepUserID, err)
		}
	}
}

// SweepNoShows marks confirmed bookings past their class end as no-shows.
func (s *service) SweepNoShows(ctx context.Context) (int, error) {
	due, err := s.repo.ListConfirmedPastEnd(ctx, s.now())
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, b := range due {
		select {
		case <-ctx.Done():
			return marked, ctx.Err()
		default:
		}
		if err := s.MarkNoShow(ctx, b.ID); err != nil {
			logger.Errorf("No-show sweep: booking %d failed: %v", b.ID, err)
			continue
		}
		marked++
	}
	return marked, nil
}

// GenerateRecurring creates due instances up to the horizon. A failed
// occurrence (no credits, full class, duplicate) is skipped and the series
// advances anyway.
func (s *service) GenerateRecurring(ctx context.Context, horizon time.Time) (*RecurringStats, error) {
	start := s.now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("recurring_bookings").Observe(time.Since(start).Seconds())
	}()

	stats := &RecurringStats{}

	if _, err := s.repo.DeactivateRecurring(ctx, truncateDay(s.now())); err != nil {
		logger.Errorf("Recurring: deactivation pass failed: %v", err)
	}

	due, err := s.repo.ListDueRecurring(ctx, horizon)
	if err != nil {
		return stats, err
	}

	for _, rec := range due {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		stats.Considered++
		_, err := s.BookClass(ctx, BookRequest{
			UserID:         rec.UserID,
			ScheduleID:     rec.ScheduleID,
			Date:           rec.NextOccurrence,
			SubscriptionID: rec.SubscriptionID,
		})
		created := err == nil
		if created {
			stats.Created++
		} else {
			stats.Skipped++
			logger.Infof("Recurring %d: occurrence %s skipped: %v", rec.ID, rec.NextOccurrence.Format("2006-01-02"), err)
		}

		if err := s.repo.AdvanceRecurrence(ctx, rec.ID, created); err != nil {
			stats.Errors++
			logger.Errorf("Recurring %d: advance failed: %v", rec.ID, err)
		}
	}

	return stats, nil
}

// SendClassReminders notifies confirmed bookings starting lead from now,
// inside a bounded window so repeated runs do not double-send.
func (s *service) SendClassReminders(ctx context.Context, lead, window time.Duration, templateKey string) (int, error) {
	from := s.now().Add(lead)
	rows, err := s.repo.ListConfirmedBetween(ctx, from, from.Add(window))
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, row := range rows {
		err := s.notifier.SendTemplated(ctx,
			notification.Recipient{UserID: row.UserID, Email: row.UserEmail, Name: row.UserName},
			templateKey,
			map[string]string{
				"class": row.ModalityName,
				"time":  row.ClassStart.Format("15:04"),
			})
		if err != nil {
			logger.Errorf("Class reminder for booking %d failed: %v", row.BookingID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *service) notify(ctx context.Context, u *user.User, template string, vars map[string]string) {
	_ = s.notifier.SendTemplated(ctx,
		notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
		template, vars)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
