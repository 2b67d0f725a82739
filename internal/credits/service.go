package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

type Service interface {
	Debit(ctx context.Context, userID, amount int, reason string) (*DebitReceipt, error)
	Preview(ctx context.Context, userID, amount int) (*WalletPlan, error)
	Refund(ctx context.Context, userID, amount int, reason string) (*Wallet, error)
	ExpireWallets(ctx context.Context) (int, error)
	NotifyExpiring(ctx context.Context, days int) (int, error)
}

type service struct {
	db       *sqlx.DB
	repo     WalletReader
	userRepo *user.Repository
	notifier notification.Notifier
}

func NewService(database *sqlx.DB, repo WalletReader, userRepo *user.Repository, notifier notification.Notifier) Service {
	return &service{
		db:       database,
		repo:     repo,
		userRepo: userRepo,
		notifier: notifier,
	}
}

// Debit takes amount credits from the user's lots, first-to-expire first,
// in one transaction under the user lock.
func (s *service) Debit(ctx context.Context, userID, amount int, reason string) (*DebitReceipt, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.KindInternal, "debit amount must be positive")
	}

	var receipt *DebitReceipt
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		u, err := user.LockTx(ctx, tx, userID)
		if err != nil {
			return apperr.New(apperr.KindNotFound, "user not found")
		}
		if !u.Active {
			return apperr.New(apperr.KindForbidden, "user is not active")
		}

		receipt, err = DebitTx(ctx, tx, userID, amount, reason)
		if err != nil {
			return err
		}

		return user.RefreshTotalsTx(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsDebitedTotal.Add(float64(amount))
	return receipt, nil
}

// Preview computes the lots a debit of amount would touch. Read-only; the
// answer can be stale by the time a real debit runs.
func (s *service) Preview(ctx context.Context, userID, amount int) (*WalletPlan, error) {
	wallets, err := s.repo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	plan := &WalletPlan{Amount: amount}
	for _, w := range wallets {
		plan.Available += w.CreditsRemaining
	}
	plan.Affordable = plan.Available >= amount

	remaining := amount
	for _, w := range wallets {
		if remaining == 0 {
			break
		}
		take := w.CreditsRemaining
		if take > remaining {
			take = remaining
		}
		plan.Lines = append(plan.Lines, DebitLine{WalletID: w.ID, Amount: take})
		remaining -= take
	}

	return plan, nil
}

// Refund mints a new lot with the standard refund validity.
func (s *service) Refund(ctx context.Context, userID, amount int, reason string) (*Wallet, error) {
	var wallet *Wallet
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, userID); err != nil {
			return apperr.New(apperr.KindNotFound, "user not found")
		}

		var err error
		wallet, err = MintTx(ctx, tx, userID, amount, SourceRefund, RefundValidityDays)
		if err != nil {
			return err
		}

		return user.RefreshTotalsTx(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}

	logger.Infof("Refunded %d credits to user %d (%s), wallet %d", amount, userID, reason, wallet.ID)
	return wallet, nil
}

// ExpireWallets flips the expired flag on overdue lots, one short
// transaction per lot so a bad record never aborts the sweep. The forfeited
// balance is notified to the owner after commit.
func (s *service) ExpireWallets(ctx context.Context) (int, error) {
	lots, err := s.repo.ListDueForExpiry(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, lot := range lots {
		select {
		case <-ctx.Done():
			return expired, ctx.Err()
		default:
		}

		err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
			if _, err := user.LockTx(ctx, tx, lot.UserID); err != nil {
				return err
			}
			if err := MarkExpiredTx(ctx, tx, lot.WalletID); err != nil {
				return err
			}
			return user.RefreshTotalsTx(ctx, tx, lot.UserID)
		})
		if err != nil {
			logger.Errorf("Failed to expire wallet %d: %v", lot.WalletID, err)
			continue
		}

		expired++
		if lot.Lost > 0 {
			metrics.CreditsExpiredTotal.Add(float64(lot.Lost))
			s.notifyExpired(ctx, lot)
		}
	}

	return expired, nil
}

func (s *service) notifyExpired(ctx context.Context, lot ExpiredLot) {
	u, err := s.userRepo.FindByID(ctx, lot.UserID)
	if err != nil {
		logger.Errorf("Expired wallet %d: cannot load user %d for notification: %v", lot.WalletID, lot.UserID, err)
		return
	}

	_ = s.notifier.SendTemplated(ctx,
		notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
		notification.TplCreditsExpired,
		map[string]string{
			"credits":    fmt.Sprintf("%d", lot.Lost),
			"expires_at": time.Now().Format("02/01/2006"),
		},
	)
}

// NotifyExpiring warns owners of lots that expire within the given window.
func (s *service) NotifyExpiring(ctx context.Context, days int) (int, error) {
	wallets, err := s.repo.ListExpiringWithin(ctx, days)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, w := range wallets {
		err := s.notifier.SendTemplated(ctx,
			notification.Recipient{UserID: w.UserID, Email: w.UserEmail, Name: w.UserName},
			notification.TplCreditsExpiring,
			map[string]string{
				"credits":    fmt.Sprintf("%d", w.CreditsRemaining),
				"expires_at": w.ExpiresAt.Format("02/01/2006"),
			},
		)
		if err != nil {
			logger.Errorf("Expiring-credits notice for wallet %d failed: %v", w.ID, err)
			continue
		}
		sent++
	}

	return sent, nil
}
