package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/backup"
	"github.com/Admsmartfit/academia-sub000/internal/booking"
	"github.com/Admsmartfit/academia-sub000/internal/commission"
	"github.com/Admsmartfit/academia-sub000/internal/config"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/gateway"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/retention"
	"github.com/Admsmartfit/academia-sub000/internal/schedule"
	"github.com/Admsmartfit/academia-sub000/internal/scheduler"
	"github.com/Admsmartfit/academia-sub000/internal/server"
	"github.com/Admsmartfit/academia-sub000/internal/subscription"
	"github.com/Admsmartfit/academia-sub000/internal/user"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

func main() {
	logger.Init()
	logger.Info("Starting academia core")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatalf("Invalid timezone %q: %v", cfg.Timezone, err)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, "migrations"); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	notifier := notification.New(
		cfg.EmailFrom, cfg.EmailFromName,
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass,
		cfg.RedisAddr,
	)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go notifier.Start(ctx)

	// Repositories.
	userRepo := user.NewRepository(database)
	creditsRepo := credits.NewRepository(database)
	xpRepo := xp.NewRepository(database)
	scheduleRepo := schedule.NewRepository(database)
	bookingRepo := booking.NewRepository(database)
	subscriptionRepo := subscription.NewRepository(database)
	retentionRepo := retention.NewRepository(database)

	gw := gateway.WithTimeout(
		gateway.NewFake(),
		time.Duration(cfg.GatewayTimeoutSeconds)*time.Second,
	)

	// Services.
	creditsSvc := credits.NewService(database, creditsRepo, userRepo, notifier)
	xpSvc := xp.NewService(database, xpRepo, userRepo, creditsRepo, notifier)
	subscriptionSvc := subscription.NewService(database, subscriptionRepo, userRepo, notifier, gw)
	commissionSvc := commission.NewService(database, commission.NewRepository(database), scheduleRepo, userRepo, notifier, cfg.CreditValueReais)
	retentionSvc := retention.NewService(retentionRepo, notifier)

	policy := booking.DefaultPolicy(loc)
	policy.CancellationWindow = time.Duration(cfg.CancellationWindowHours) * time.Hour
	policy.LateCancelXPPen = cfg.LateCancelXPPenalty
	bookingSvc := booking.NewService(
		database, bookingRepo, scheduleRepo, userRepo, subscriptionRepo,
		notifier, commissionSvc, xpSvc, policy,
	)

	achievements := xp.NewAchievementSweeper(xpSvc, xpRepo, bookingRepo, userRepo)
	backups := backup.NewManager(cfg.DatabaseURL, cfg.BackupDir, cfg.BackupRetention)
	distributor := schedule.NewDistributor(database, scheduleRepo, userRepo)

	tasks := scheduler.New(
		loc, bookingSvc, creditsSvc, subscriptionSvc, retentionSvc,
		commissionSvc, achievements, xpSvc, userRepo, distributor, backups,
	)
	if err := tasks.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer tasks.Stop()

	srv := server.New(cfg, server.Handlers{
		User:         user.NewHandler(database, cfg.JWTSecret),
		Booking:      booking.NewHandler(bookingSvc, bookingRepo),
		Credits:      credits.NewHandler(creditsSvc, creditsRepo),
		XP:           xp.NewHandler(xpSvc),
		Schedule:     schedule.NewHandler(database, scheduleRepo, distributor),
		Subscription: subscription.NewHandler(subscriptionSvc, subscriptionRepo),
		Commission:   commission.NewHandler(commissionSvc),
		Retention:    retention.NewHandler(retentionSvc),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}

	logger.Info("Server stopped")
}
