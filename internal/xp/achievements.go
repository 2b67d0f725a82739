package xp

import (
	"context"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
)

// Milestone awards XP once when a member's lifetime completed bookings
// reach the threshold. Threshold doubles as the source id, so each grant is
// idempotent.
type Milestone struct {
	Threshold int
	XP        int
}

var DefaultMilestones = []Milestone{
	{Threshold: 10, XP: 50},
	{Threshold: 50, XP: 150},
	{Threshold: 100, XP: 300},
}

type completedCounter interface {
	CountCompleted(ctx context.Context, userID int) (int, error)
}

type activeUserLister interface {
	ListActiveIDs(ctx context.Context) ([]int, error)
}

// AchievementSweeper re-evaluates milestones on the hourly tick.
type AchievementSweeper struct {
	xp         Service
	repo       *Repository
	bookings   completedCounter
	users      activeUserLister
	milestones []Milestone
}

func NewAchievementSweeper(xpService Service, repo *Repository, bookings completedCounter, users activeUserLister) *AchievementSweeper {
	return &AchievementSweeper{
		xp:         xpService,
		repo:       repo,
		bookings:   bookings,
		users:      users,
		milestones: DefaultMilestones,
	}
}

// EvaluateUser grants every milestone the user has crossed but not yet
// been paid for. Returns how many grants were made.
func (a *AchievementSweeper) EvaluateUser(ctx context.Context, userID int) (int, error) {
	completed, err := a.bookings.CountCompleted(ctx, userID)
	if err != nil {
		return 0, err
	}

	granted := 0
	for _, m := range a.milestones {
		if completed < m.Threshold {
			break
		}

		already, err := a.repo.HasGrantForSource(ctx, userID, SourceAchievement, m.Threshold)
		if err != nil {
			return granted, err
		}
		if already {
			continue
		}

		threshold := m.Threshold
		if err := a.xp.Grant(ctx, userID, m.XP, SourceAchievement, &threshold); err != nil {
			return granted, err
		}
		granted++
		logger.Infof("User %d reached %d completed classes, granted %d XP", userID, m.Threshold, m.XP)
	}

	return granted, nil
}

// Sweep re-evaluates every active member. Per-user failures log and move
// on; the next tick retries.
func (a *AchievementSweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("achievements").Observe(time.Since(start).Seconds())
	}()

	ids, err := a.users.ListActiveIDs(ctx)
	if err != nil {
		return 0, err
	}

	granted := 0
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return granted, ctx.Err()
		default:
		}
		n, err := a.EvaluateUser(ctx, id)
		if err != nil {
			logger.Errorf("Achievement sweep: user %d failed: %v", id, err)
			continue
		}
		granted += n
	}
	return granted, nil
}
