package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
)

type Service interface {
	CalculateScores(ctx context.Context) (int, error)
	RunAutomations(ctx context.Context) (int, error)
	GetScore(ctx context.Context, userID int) (*EngagementScore, error)
}

type service struct {
	repo     *Repository
	notifier notification.Notifier
	now      func() time.Time
}

func NewService(repo *Repository, notifier notification.Notifier) Service {
	return &service{repo: repo, notifier: notifier, now: time.Now}
}

// CalculateScores recomputes every active student's engagement snapshot.
func (s *service) CalculateScores(ctx context.Context) (int, error) {
	start := s.now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("engagement_scores").Observe(time.Since(start).Seconds())
	}()

	rows, err := s.repo.ListActivity(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		select {
		case <-ctx.Done():
			return updated, ctx.Err()
		default:
		}

		days := -1
		if row.LastCompleted != nil {
			days = int(s.now().Sub(*row.LastCompleted).Hours() / 24)
		}
		score := ScoreFor(days, row.Visits30D)

		err := s.repo.UpsertScore(ctx, EngagementScore{
			UserID:        row.UserID,
			Score:         score,
			DaysSinceLast: days,
			Visits30D:     row.Visits30D,
			RiskLevel:     RiskFor(score),
		})
		if err != nil {
			logger.Errorf("Engagement score for user %d failed: %v", row.UserID, err)
			continue
		}
		updated++
	}

	return updated, nil
}

// RunAutomations sends outreach to inactive members: a nudge after 7 days
// without a class, a win-back after 21. At most one of each per cooldown
// window, and only the strongest tier that applies.
func (s *service) RunAutomations(ctx context.Context) (int, error) {
	rows, err := s.repo.ListActivity(ctx)
	if err != nil {
		return 0, err
	}

	cooloff := s.now().AddDate(0, 0, -OutreachCooldownD)
	sent := 0
	for _, row := range rows {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		default:
		}

		if row.LastCompleted == nil {
			continue
		}
		days := int(s.now().Sub(*row.LastCompleted).Hours() / 24)

		var kind, tpl string
		vars := map[string]string{"days": fmt.Sprintf("%d", days)}
		switch {
		case days >= WinBackAfterDays:
			kind, tpl = "win_back", notification.TplWinBack
			vars["credits"] = fmt.Sprintf("%d", row.CreditsBalance)
		case days >= MissYouAfterDays:
			kind, tpl = "we_miss_you", notification.TplWeMissYou
		default:
			continue
		}

		recent, err := s.repo.SentRecently(ctx, row.UserID, kind, cooloff)
		if err != nil {
			logger.Errorf("Retention: cooldown check for user %d failed: %v", row.UserID, err)
			continue
		}
		if recent {
			continue
		}

		err = s.notifier.SendTemplated(ctx,
			notification.Recipient{UserID: row.UserID, Email: row.Email, Name: row.Name},
			tpl, vars)
		if err != nil {
			logger.Errorf("Retention: %s to user %d failed: %v", kind, row.UserID, err)
			continue
		}
		if err := s.repo.RecordSent(ctx, row.UserID, kind); err != nil {
			logger.Errorf("Retention: recording %s for user %d failed: %v", kind, row.UserID, err)
		}
		sent++
	}

	return sent, nil
}

func (s *service) GetScore(ctx context.Context, userID int) (*EngagementScore, error) {
	return s.repo.GetScore(ctx, userID)
}
