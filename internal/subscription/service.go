package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shopspring/decimal"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/gateway"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

type Service interface {
	RunDunningSweep(ctx context.Context) (*DunningStats, error)
	SendPaymentReminders(ctx context.Context) (int, error)
	CreateCharge(ctx context.Context, paymentID int) (*gateway.Charge, error)
	RegisterPayment(ctx context.Context, paymentID int) error
	Unsuspend(ctx context.Context, subscriptionID int) error
	ExpireEnded(ctx context.Context) (int, error)
}

type service struct {
	db       *sqlx.DB
	repo     *Repository
	userRepo *user.Repository
	notifier notification.Notifier
	gateway  gateway.Gateway
	now      func() time.Time
}

func NewService(database *sqlx.DB, repo *Repository, userRepo *user.Repository, notifier notification.Notifier, gw gateway.Gateway) Service {
	return &service{
		db:       database,
		repo:     repo,
		userRepo: userRepo,
		notifier: notifier,
		gateway:  gw,
		now:      time.Now,
	}
}

// RunDunningSweep walks installment plans and advances payment and
// subscription states by age. Each record gets its own short transaction;
// one bad record never aborts the sweep. Notifications go out after the
// commit they describe.
func (s *service) RunDunningSweep(ctx context.Context) (*DunningStats, error) {
	start := s.now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("dunning").Observe(time.Since(start).Seconds())
	}()

	stats := &DunningStats{}
	today := truncateDay(s.now())

	// Freshly late payments.
	pending, err := s.repo.ListPendingDue(ctx, today)
	if err != nil {
		return stats, err
	}
	for _, p := range pending {
		if err := s.ageOnePayment(ctx, p, today, true, stats); err != nil {
			stats.Errors++
			logger.Errorf("Dunning: payment %d failed: %v", p.ID, err)
		}
	}

	// Already-overdue payments: refresh age and fire thresholds.
	overdue, err := s.repo.ListOverdue(ctx)
	if err != nil {
		return stats, err
	}
	for _, p := range overdue {
		if err := s.ageOnePayment(ctx, p, today, false, stats); err != nil {
			stats.Errors++
			logger.Errorf("Dunning: payment %d failed: %v", p.ID, err)
		}
	}
	stats.PaymentsChecked = len(pending) + len(overdue)

	// Subscriptions past their end date forfeit remaining credits.
	expired, err := s.ExpireEnded(ctx)
	if err != nil {
		stats.Errors++
		logger.Errorf("Dunning: expiring ended subscriptions failed: %v", err)
	}
	stats.Expired = expired

	logger.Infof("Dunning sweep: %d checked, %d overdue, %d suspended, %d cancelled, %d expired, %d errors",
		stats.PaymentsChecked, stats.MarkedOverdue, stats.Suspended, stats.Cancelled, stats.Expired, stats.Errors)
	return stats, nil
}

func (s *service) ageOnePayment(ctx context.Context, p Payment, today time.Time, fresh bool, stats *DunningStats) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	overdueDays := int(today.Sub(truncateDay(p.DueDate)).Hours() / 24)
	if overdueDays < 0 {
		return nil
	}

	var suspended, cancelled bool
	var sub *Subscription

	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		sub, err = GetTx(ctx, tx, p.SubscriptionID)
		if err != nil {
			return err
		}

		if _, err := user.LockTx(ctx, tx, sub.UserID); err != nil {
			return err
		}

		if fresh {
			if err := MarkOverdueTx(ctx, tx, p.ID, overdueDays); err != nil {
				return err
			}
			stats.MarkedOverdue++
			metrics.DunningTransitionsTotal.WithLabelValues("pending_to_overdue").Inc()
		} else {
			if err := RefreshOverdueDaysTx(ctx, tx, p.ID, overdueDays); err != nil {
				return err
			}
		}

		if overdueDays >= CancelAfterDays && (sub.Status == StatusActive || sub.Status == StatusSuspended) {
			if err := CancelTx(ctx, tx, sub.ID); err != nil {
				return err
			}
			cancelled = true
			metrics.DunningTransitionsTotal.WithLabelValues("subscription_cancelled").Inc()
		} else if overdueDays >= SuspendAfterDays && sub.Status == StatusActive {
			reason := fmt.Sprintf("payment %d overdue %d days", p.ID, overdueDays)
			if err := SuspendTx(ctx, tx, sub.ID, reason); err != nil {
				return err
			}
			suspended = true
			metrics.DunningTransitionsTotal.WithLabelValues("subscription_suspended").Inc()
		}

		if cancelled {
			return user.RefreshTotalsTx(ctx, tx, sub.UserID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cancelled {
		stats.Cancelled++
		// The provider charge for the installment that triggered the
		// cancellation is void now; best effort, the sweep retries daily.
		if s.gateway != nil && p.GatewayReference != nil {
			if err := s.gateway.Cancel(ctx, *p.GatewayReference); err != nil {
				logger.Errorf("Dunning: cancelling charge %s failed: %v", *p.GatewayReference, err)
			}
		}
		s.notify(ctx, sub.UserID, notification.TplSubscriptionCancelled, map[string]string{
			"overdue_days": fmt.Sprintf("%d", overdueDays),
		})
	} else if suspended {
		stats.Suspended++
		s.notify(ctx, sub.UserID, notification.TplSubscriptionSuspended, map[string]string{
			"overdue_days": fmt.Sprintf("%d", overdueDays),
		})
	}

	return nil
}

// SendPaymentReminders notifies owners of installments due in three days.
func (s *service) SendPaymentReminders(ctx context.Context) (int, error) {
	today := truncateDay(s.now())
	payments, err := s.repo.ListDueInDays(ctx, today, ReminderLeadDays)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range payments {
		sub, err := s.repo.GetByID(ctx, p.SubscriptionID)
		if err != nil {
			logger.Errorf("Payment reminder: subscription %d missing: %v", p.SubscriptionID, err)
			continue
		}
		s.notify(ctx, sub.UserID, notification.TplPaymentReminder, map[string]string{
			"installment": fmt.Sprintf("%d/%d", p.InstallmentNo, p.TotalInstallments),
			"due_date":    p.DueDate.Format("02/01/2006"),
			"amount":      fmt.Sprintf("%.2f", float64(p.AmountCents)/100),
		})
		sent++
	}

	return sent, nil
}

// CreateCharge opens a Pix charge at the provider for an unpaid
// installment and pins the charge reference on the payment row.
func (s *service) CreateCharge(ctx context.Context, paymentID int) (*gateway.Charge, error) {
	if s.gateway == nil {
		return nil, apperr.New(apperr.KindInternal, "no payment gateway configured")
	}

	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}
	if p.Status != PaymentPending && p.Status != PaymentOverdue {
		return nil, apperr.Newf(apperr.KindConflict, "payment is %s", p.Status)
	}
	if p.GatewayReference != nil {
		return nil, apperr.Newf(apperr.KindConflict, "payment already has charge %s", *p.GatewayReference)
	}

	sub, err := s.repo.GetByID(ctx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	u, err := s.userRepo.FindByID(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}

	charge, err := s.gateway.CreatePix(ctx, gateway.ChargeRequest{
		Reference:   fmt.Sprintf("sub-%d-inst-%d", sub.ID, p.InstallmentNo),
		UserTaxID:   u.TaxID,
		Description: fmt.Sprintf("Installment %d/%d", p.InstallmentNo, p.TotalInstallments),
		Amount:      decimal.NewFromInt(p.AmountCents).Div(decimal.NewFromInt(100)),
		DueDate:     p.DueDate,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetGatewayReference(ctx, p.ID, charge.Reference); err != nil {
		return nil, err
	}
	return charge, nil
}

// RegisterPayment settles an installment. A payment carrying a provider
// charge is only accepted once the gateway reports it paid; a suspended
// subscription auto-unblocks on receipt of the missing payment, and when
// every installment is paid the subscription is flagged paid.
func (s *service) RegisterPayment(ctx context.Context, paymentID int) error {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return apperr.New(apperr.KindNotFound, "payment not found")
	}

	if err := s.verifyGatewayPaid(ctx, p); err != nil {
		return err
	}

	var unblocked bool
	err = db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		sub, err := GetTx(ctx, tx, p.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status == StatusCancelled {
			return apperr.New(apperr.KindSubscriptionCancelled, "subscription is cancelled")
		}

		if _, err := user.LockTx(ctx, tx, sub.UserID); err != nil {
			return err
		}

		if err := MarkPaidTx(ctx, tx, paymentID); err != nil {
			return err
		}

		if sub.Status == StatusSuspended {
			if err := UnsuspendTx(ctx, tx, sub.ID); err != nil {
				return err
			}
			unblocked = true
		}

		allPaid, err := AllPaidTx(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if allPaid {
			if err := MarkSubscriptionPaidTx(ctx, tx, sub.ID); err != nil {
				return err
			}
		}

		return user.RefreshTotalsTx(ctx, tx, sub.UserID)
	})
	if err != nil {
		return err
	}

	if unblocked {
		metrics.DunningTransitionsTotal.WithLabelValues("subscription_unsuspended").Inc()
		logger.Infof("Subscription %d unsuspended by payment %d", p.SubscriptionID, paymentID)
	}
	return nil
}

// verifyGatewayPaid refuses to settle an installment whose provider
// charge is not paid. Payments with no charge (cash, manual entry) pass
// through; a gateway timeout surfaces to the caller as retryable.
func (s *service) verifyGatewayPaid(ctx context.Context, p *Payment) error {
	if s.gateway == nil || p.GatewayReference == nil {
		return nil
	}

	status, err := s.gateway.GetStatus(ctx, *p.GatewayReference)
	if err != nil {
		return err
	}
	if status != gateway.StatusPaid {
		return apperr.Newf(apperr.KindConflict, "gateway reports charge %s as %s", *p.GatewayReference, status)
	}
	return nil
}

// Unsuspend is the manual admin path.
func (s *service) Unsuspend(ctx context.Context, subscriptionID int) error {
	return db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		sub, err := GetTx(ctx, tx, subscriptionID)
		if err != nil {
			return apperr.New(apperr.KindNotFound, "subscription not found")
		}
		if sub.Status != StatusSuspended {
			return apperr.Newf(apperr.KindConflict, "subscription is %s, not suspended", sub.Status)
		}
		if _, err := user.LockTx(ctx, tx, sub.UserID); err != nil {
			return err
		}
		if err := UnsuspendTx(ctx, tx, subscriptionID); err != nil {
			return err
		}
		return user.RefreshTotalsTx(ctx, tx, sub.UserID)
	})
}

// ExpireEnded marks ended subscriptions expired and forfeits their
// remaining credits.
func (s *service) ExpireEnded(ctx context.Context) (int, error) {
	subs, err := s.repo.ListEndedWithCredits(ctx, truncateDay(s.now()))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return expired, ctx.Err()
		default:
		}

		remaining := sub.CreditsRemaining()
		err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
			if _, err := user.LockTx(ctx, tx, sub.UserID); err != nil {
				return err
			}
			if err := ExpireTx(ctx, tx, sub.ID); err != nil {
				return err
			}
			return user.RefreshTotalsTx(ctx, tx, sub.UserID)
		})
		if err != nil {
			logger.Errorf("Expire subscription %d failed: %v", sub.ID, err)
			continue
		}

		expired++
		metrics.DunningTransitionsTotal.WithLabelValues("subscription_expired").Inc()
		s.notify(ctx, sub.UserID, notification.TplSubscriptionExpired, map[string]string{
			"end_date": sub.EndDate.Format("02/01/2006"),
			"credits":  fmt.Sprintf("%d", remaining),
		})
	}

	return expired, nil
}

func (s *service) notify(ctx context.Context, userID int, template string, vars map[string]string) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		logger.Errorf("Notification %s: cannot load user %d: %v", template, userID, err)
		return
	}
	_ = s.notifier.SendTemplated(ctx,
		notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
		template, vars)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
