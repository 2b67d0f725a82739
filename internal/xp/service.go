package xp

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Admsmartfit/academia-sub000/internal/apperr"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/user"
)

type Service interface {
	Grant(ctx context.Context, userID, amount int, source string, sourceID *int) error
	Available(ctx context.Context, userID int) (int, error)
	ListAvailableRules(ctx context.Context, userID int) ([]RuleAvailability, error)
	Convert(ctx context.Context, userID, ruleID int) (*Conversion, error)
	CheckAutomaticConversions(ctx context.Context, userID int) (int, error)
	Summary(ctx context.Context, userID int) (*Summary, error)
}

type service struct {
	db          *sqlx.DB
	repo        *Repository
	userRepo    *user.Repository
	creditsRepo credits.WalletReader
	notifier    notification.Notifier
}

func NewService(database *sqlx.DB, repo *Repository, userRepo *user.Repository, creditsRepo credits.WalletReader, notifier notification.Notifier) Service {
	return &service{
		db:          database,
		repo:        repo,
		userRepo:    userRepo,
		creditsRepo: creditsRepo,
		notifier:    notifier,
	}
}

// Grant appends a ledger entry and refreshes the cached total, then runs
// the automatic-conversion sweep in its own transactions.
func (s *service) Grant(ctx context.Context, userID, amount int, source string, sourceID *int) error {
	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, userID); err != nil {
			return apperr.New(apperr.KindNotFound, "user not found")
		}
		if _, err := GrantTx(ctx, tx, userID, amount, source, sourceID); err != nil {
			return err
		}
		return user.RefreshTotalsTx(ctx, tx, userID)
	})
	if err != nil {
		return err
	}

	metrics.XPGrantedTotal.WithLabelValues(source).Add(float64(amount))

	if _, err := s.CheckAutomaticConversions(ctx, userID); err != nil {
		// The grant is committed; the sweep will run again on the hourly tick.
		logger.Errorf("Automatic conversion sweep after grant failed for user %d: %v", userID, err)
	}

	return nil
}

func (s *service) Available(ctx context.Context, userID int) (int, error) {
	return s.repo.Available(ctx, userID)
}

// ListAvailableRules annotates every active rule with this user's
// eligibility.
func (s *service) ListAvailableRules(ctx context.Context, userID int) ([]RuleAvailability, error) {
	rules, err := s.repo.ListActiveRules(ctx, false)
	if err != nil {
		return nil, err
	}

	available, err := s.repo.Available(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]RuleAvailability, 0, len(rules))
	for _, rule := range rules {
		ra := RuleAvailability{Rule: rule, Available: true}

		if available < rule.XPRequired {
			ra.Available = false
			ra.Reason = "insufficient_xp"
		}

		if ra.Available && rule.MaxUsesPerUser != nil {
			used, err := s.repo.RuleUseCount(ctx, userID, rule.ID)
			if err != nil {
				return nil, err
			}
			if used >= *rule.MaxUsesPerUser {
				ra.Available = false
				ra.Reason = apperr.ReasonMaxUses
			}
		}

		if ra.Available && rule.CooldownDays != nil {
			last, err := s.repo.LastRuleUse(ctx, userID, rule.ID)
			if err != nil {
				return nil, err
			}
			if last != nil && time.Since(*last) < time.Duration(*rule.CooldownDays)*24*time.Hour {
				ra.Available = false
				ra.Reason = apperr.ReasonCooldown
			}
		}

		out = append(out, ra)
	}

	return out, nil
}

// Convert consumes exactly rule.xp_required XP (earliest expiry first),
// mints the credit lot, and records the audit row, all in one transaction
// under the user lock.
func (s *service) Convert(ctx context.Context, userID, ruleID int) (*Conversion, error) {
	var conversion *Conversion
	var wallet *credits.Wallet

	err := db.InTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := user.LockTx(ctx, tx, userID); err != nil {
			return apperr.New(apperr.KindNotFound, "user not found")
		}

		rule, err := GetRuleTx(ctx, tx, ruleID)
		if err != nil {
			if err == ErrRuleNotFound {
				return apperr.New(apperr.KindNotFound, "conversion rule not found")
			}
			return err
		}

		if err := validateRuleTx(ctx, tx, userID, rule); err != nil {
			return err
		}

		if err := ConsumeTx(ctx, tx, userID, rule.XPRequired); err != nil {
			return err
		}

		wallet, err = credits.MintTx(ctx, tx, userID, rule.CreditsGranted, credits.SourceConversion, rule.CreditValidityDays)
		if err != nil {
			return err
		}

		conversion, err = InsertConversionTx(ctx, tx, userID, rule.ID, wallet.ID, rule.XPRequired, rule.CreditsGranted)
		if err != nil {
			return err
		}

		return user.RefreshTotalsTx(ctx, tx, userID)
	})
	if err != nil {
		return nil, err
	}

	metrics.XPConversionsTotal.Inc()
	s.notifyConverted(ctx, userID, conversion, wallet)

	return conversion, nil
}

func validateRuleTx(ctx context.Context, tx *sqlx.Tx, userID int, rule *Rule) error {
	if !rule.Active {
		return apperr.WithReason(apperr.KindRuleUnavailable, apperr.ReasonInactive, "rule is inactive")
	}

	available, err := AvailableTx(ctx, tx, userID)
	if err != nil {
		return err
	}
	if available < rule.XPRequired {
		return apperr.Newf(apperr.KindInsufficientXP, "rule needs %d XP, user has %d", rule.XPRequired, available)
	}

	if rule.MaxUsesPerUser != nil {
		used, err := RuleUseCountTx(ctx, tx, userID, rule.ID)
		if err != nil {
			return err
		}
		if used >= *rule.MaxUsesPerUser {
			return apperr.WithReason(apperr.KindRuleUnavailable, apperr.ReasonMaxUses, "rule use limit reached")
		}
	}

	if rule.CooldownDays != nil {
		last, err := LastRuleUseTx(ctx, tx, userID, rule.ID)
		if err != nil {
			return err
		}
		if last != nil && time.Since(*last) < time.Duration(*rule.CooldownDays)*24*time.Hour {
			return apperr.WithReason(apperr.KindRuleUnavailable, apperr.ReasonCooldown, "rule is cooling down")
		}
	}

	return nil
}

// CheckAutomaticConversions applies automatic rules until none fits,
// re-reading available XP between attempts so one grant can chain several
// conversions. Returns how many conversions were made.
func (s *service) CheckAutomaticConversions(ctx context.Context, userID int) (int, error) {
	rules, err := s.repo.ListActiveRules(ctx, true)
	if err != nil {
		return 0, err
	}
	if len(rules) == 0 {
		return 0, nil
	}

	converted := 0
	for {
		applied := false
		for _, rule := range rules {
			_, err := s.Convert(ctx, userID, rule.ID)
			if err != nil {
				if apperr.IsKind(err, apperr.KindInsufficientXP) || apperr.IsKind(err, apperr.KindRuleUnavailable) {
					continue
				}
				return converted, err
			}
			converted++
			applied = true
			break // restart from the highest-priority rule
		}
		if !applied {
			return converted, nil
		}
	}
}

// Summary aggregates the totals surfaced to the member dashboard.
func (s *service) Summary(ctx context.Context, userID int) (*Summary, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}

	xpExpiring, err := s.repo.ExpiringWithin(ctx, userID, 14)
	if err != nil {
		return nil, err
	}

	wallets, err := s.creditsRepo.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	creditsExpiring := 0
	cutoff := time.Now().AddDate(0, 0, 14)
	for _, w := range wallets {
		if w.ExpiresAt.Before(cutoff) {
			creditsExpiring += w.CreditsRemaining
		}
	}

	recent, err := s.repo.RecentConversions(ctx, userID, 5)
	if err != nil {
		return nil, err
	}

	return &Summary{
		UserID:            userID,
		XPAvailable:       u.XPAvailable,
		XPExpiringSoon:    xpExpiring,
		CreditsBalance:    u.CreditsBalance,
		CreditsExpiring:   creditsExpiring,
		RecentConversions: recent,
	}, nil
}

func (s *service) notifyConverted(ctx context.Context, userID int, c *Conversion, w *credits.Wallet) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		logger.Errorf("Conversion %d: cannot load user %d for notification: %v", c.ID, userID, err)
		return
	}

	_ = s.notifier.SendTemplated(ctx,
		notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
		notification.TplXPConverted,
		map[string]string{
			"xp":         fmt.Sprintf("%d", c.XPSpent),
			"credits":    fmt.Sprintf("%d", c.CreditsGranted),
			"expires_at": w.ExpiresAt.Format("02/01/2006"),
		},
	)
}
