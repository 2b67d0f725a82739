package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Admsmartfit/academia-sub000/internal/backup"
	"github.com/Admsmartfit/academia-sub000/internal/booking"
	"github.com/Admsmartfit/academia-sub000/internal/commission"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/retention"
	"github.com/Admsmartfit/academia-sub000/internal/subscription"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

// conversionSweeper re-runs automatic conversions for one user.
type conversionSweeper interface {
	CheckAutomaticConversions(ctx context.Context, userID int) (int, error)
}

type activeUserLister interface {
	ListActiveIDs(ctx context.Context) ([]int, error)
}

// genderDistributor assigns the daily gender rotation to eligible
// schedules before bookings are generated against them.
type genderDistributor interface {
	DistributeForDate(ctx context.Context, date time.Time) (int, error)
}

// Scheduler owns every periodic task. One in-process cron; overlapping
// runs of the same task are skipped, not queued.
type Scheduler struct {
	cron *cron.Cron

	bookings      booking.Service
	creditsSvc    credits.Service
	subscriptions subscription.Service
	retentionSvc  retention.Service
	commissions   commission.Service
	achievements  *xp.AchievementSweeper
	conversions   conversionSweeper
	users         activeUserLister
	distribution  genderDistributor
	backups       *backup.Manager
}

func New(
	loc *time.Location,
	bookings booking.Service,
	creditsSvc credits.Service,
	subscriptions subscription.Service,
	retentionSvc retention.Service,
	commissions commission.Service,
	achievements *xp.AchievementSweeper,
	conversions conversionSweeper,
	users activeUserLister,
	distribution genderDistributor,
	backups *backup.Manager,
) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		bookings:      bookings,
		creditsSvc:    creditsSvc,
		subscriptions: subscriptions,
		retentionSvc:  retentionSvc,
		commissions:   commissions,
		achievements:  achievements,
		conversions:   conversions,
		users:         users,
		distribution:  distribution,
		backups:       backups,
	}
}

// Start registers the timetable and launches the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context)
	}{
		{"0 0 * * *", "recurring_today", s.generateRecurringToday},
		{"0 3 * * *", "backup", s.snapshot},
		{"0 6 * * *", "recurring_lookahead", s.generateRecurringLookahead},
		{"0 9 * * *", "morning_sweeps", s.morningSweeps},
		{"0 10 * * *", "payment_reminders", s.paymentReminders},
		{"0 11 * * *", "retention_outreach", s.retentionOutreach},
		{"0 18 * * *", "class_reminders_24h", s.classReminders24h},
		{"*/30 * * * *", "class_reminders_2h", s.classReminders2h},
		{"0 * * * *", "hourly_gamification", s.hourlyGamification},
	}

	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			job.run(ctx)
		})
		if err != nil {
			return err
		}
		logger.Infof("Scheduled task %s at %q", job.name, job.spec)
	}

	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// distributeGenders runs the segregation rotation for each of the next
// days dates. Bookings generated afterwards see the assigned genders.
func (s *Scheduler) distributeGenders(ctx context.Context, from time.Time, days int) {
	assigned := 0
	for i := 0; i < days; i++ {
		n, err := s.distribution.DistributeForDate(ctx, from.AddDate(0, 0, i))
		if err != nil {
			logger.Errorf("Gender distribution for %s failed: %v", from.AddDate(0, 0, i).Format("2006-01-02"), err)
			continue
		}
		assigned += n
	}
	if assigned > 0 {
		logger.Infof("Gender distribution: %d schedules assigned", assigned)
	}
}

func (s *Scheduler) generateRecurringToday(ctx context.Context) {
	s.distributeGenders(ctx, time.Now(), 1)

	stats, err := s.bookings.GenerateRecurring(ctx, time.Now())
	if err != nil {
		logger.Errorf("Recurring generation (today) failed: %v", err)
		return
	}
	logger.Infof("Recurring generation (today): %d created, %d skipped", stats.Created, stats.Skipped)
}

func (s *Scheduler) generateRecurringLookahead(ctx context.Context) {
	s.distributeGenders(ctx, time.Now(), 28)

	stats, err := s.bookings.GenerateRecurring(ctx, time.Now().AddDate(0, 0, 28))
	if err != nil {
		logger.Errorf("Recurring generation (28d lookahead) failed: %v", err)
		return
	}
	logger.Infof("Recurring generation (28d): %d created, %d skipped", stats.Created, stats.Skipped)
}

func (s *Scheduler) snapshot(ctx context.Context) {
	if _, err := s.backups.Create(ctx); err != nil {
		logger.Errorf("Nightly backup failed: %v", err)
	}
}

// morningSweeps runs the money-side lifecycle work: dunning, subscription
// expiry, credit expiry, no-show backstop, split suggestions, engagement
// scores.
func (s *Scheduler) morningSweeps(ctx context.Context) {
	if _, err := s.subscriptions.RunDunningSweep(ctx); err != nil {
		logger.Errorf("Dunning sweep failed: %v", err)
	}
	if _, err := s.subscriptions.ExpireEnded(ctx); err != nil {
		logger.Errorf("Subscription expiry sweep failed: %v", err)
	}
	if _, err := s.creditsSvc.ExpireWallets(ctx); err != nil {
		logger.Errorf("Credit expiry sweep failed: %v", err)
	}
	if _, err := s.bookings.SweepNoShows(ctx); err != nil {
		logger.Errorf("No-show sweep failed: %v", err)
	}
	if _, err := s.commissions.RecomputeSplitSuggestions(ctx); err != nil {
		logger.Errorf("Split suggestion pass failed: %v", err)
	}
	if _, err := s.retentionSvc.CalculateScores(ctx); err != nil {
		logger.Errorf("Engagement score pass failed: %v", err)
	}
}

func (s *Scheduler) paymentReminders(ctx context.Context) {
	n, err := s.subscriptions.SendPaymentReminders(ctx)
	if err != nil {
		logger.Errorf("Payment reminders failed: %v", err)
		return
	}
	logger.Infof("Payment reminders: %d sent", n)
}

func (s *Scheduler) retentionOutreach(ctx context.Context) {
	n, err := s.retentionSvc.RunAutomations(ctx)
	if err != nil {
		logger.Errorf("Retention outreach failed: %v", err)
		return
	}
	logger.Infof("Retention outreach: %d sent", n)
}

func (s *Scheduler) classReminders24h(ctx context.Context) {
	n, err := s.bookings.SendClassReminders(ctx, 24*time.Hour, 24*time.Hour, notification.TplClassReminder24H)
	if err != nil {
		logger.Errorf("24h class reminders failed: %v", err)
		return
	}
	logger.Infof("24h class reminders: %d sent", n)
}

func (s *Scheduler) classReminders2h(ctx context.Context) {
	n, err := s.bookings.SendClassReminders(ctx, 2*time.Hour, 30*time.Minute, notification.TplClassReminder2H)
	if err != nil {
		logger.Errorf("2h class reminders failed: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("2h class reminders: %d sent", n)
	}
}

// hourlyGamification re-evaluates achievements, then sweeps automatic
// conversions for every active member.
func (s *Scheduler) hourlyGamification(ctx context.Context) {
	if _, err := s.achievements.Sweep(ctx); err != nil {
		logger.Errorf("Achievement sweep failed: %v", err)
	}

	ids, err := s.users.ListActiveIDs(ctx)
	if err != nil {
		logger.Errorf("Conversion sweep: listing users failed: %v", err)
		return
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := s.conversions.CheckAutomaticConversions(ctx, id); err != nil {
			logger.Errorf("Conversion sweep: user %d failed: %v", id, err)
		}
	}
}
