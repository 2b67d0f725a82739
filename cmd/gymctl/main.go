package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Admsmartfit/academia-sub000/internal/backup"
	"github.com/Admsmartfit/academia-sub000/internal/config"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/db"
	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/notification"
	"github.com/Admsmartfit/academia-sub000/internal/retention"
	"github.com/Admsmartfit/academia-sub000/internal/user"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

const usage = `gymctl - academia operator tools

Usage:
  gymctl credits expire
  gymctl credits notify-expiring [--days N]
  gymctl xp check-conversions [--user ID]
  gymctl xp summary USER
  gymctl notifications test USER KIND
  gymctl calculate-scores
  gymctl run-automations
  gymctl backup {create|list|restore NAME}
`

// app bundles everything a subcommand may need.
type app struct {
	cfg          *config.Config
	creditsSvc   credits.Service
	xpSvc        xp.Service
	userRepo     *user.Repository
	notifier     *notification.Service
	retentionSvc retention.Service
	backups      *backup.Manager
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		fatal("loading config: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		fatal("connecting to database: %v", err)
	}
	defer database.Close()

	notifier := notification.New(
		cfg.EmailFrom, cfg.EmailFromName,
		cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass,
		cfg.RedisAddr,
	)
	defer notifier.Close()

	userRepo := user.NewRepository(database)
	creditsRepo := credits.NewRepository(database)
	xpRepo := xp.NewRepository(database)

	a := &app{
		cfg:          cfg,
		creditsSvc:   credits.NewService(database, creditsRepo, userRepo, notifier),
		xpSvc:        xp.NewService(database, xpRepo, userRepo, creditsRepo, notifier),
		userRepo:     userRepo,
		notifier:     notifier,
		retentionSvc: retention.NewService(retention.NewRepository(database), notifier),
		backups:      backup.NewManager(cfg.DatabaseURL, cfg.BackupDir, cfg.BackupRetention),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var cmdErr error
	switch os.Args[1] {
	case "credits":
		cmdErr = a.runCredits(ctx, os.Args[2:])
	case "xp":
		cmdErr = a.runXP(ctx, os.Args[2:])
	case "notifications":
		cmdErr = a.runNotifications(ctx, os.Args[2:])
	case "calculate-scores":
		cmdErr = a.runCalculateScores(ctx)
	case "run-automations":
		cmdErr = a.runAutomations(ctx)
	case "backup":
		cmdErr = a.runBackup(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "gymctl: %v\n", cmdErr)
		os.Exit(1)
	}
}

func (a *app) runCredits(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("credits: subcommand required (expire | notify-expiring)")
	}

	switch args[0] {
	case "expire":
		n, err := a.creditsSvc.ExpireWallets(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d credit lots expired\n", n)
		return nil

	case "notify-expiring":
		fs := flag.NewFlagSet("notify-expiring", flag.ExitOnError)
		days := fs.Int("days", 7, "warn for lots expiring within N days")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		n, err := a.creditsSvc.NotifyExpiring(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("%d expiry warnings queued\n", n)
		return nil

	default:
		return fmt.Errorf("credits: unknown subcommand %q", args[0])
	}
}

func (a *app) runXP(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("xp: subcommand required (check-conversions | summary)")
	}

	switch args[0] {
	case "check-conversions":
		fs := flag.NewFlagSet("check-conversions", flag.ExitOnError)
		userID := fs.Int("user", 0, "restrict to one user")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}

		ids := []int{*userID}
		if *userID == 0 {
			var err error
			ids, err = a.userRepo.ListActiveIDs(ctx)
			if err != nil {
				return err
			}
		}

		converted, failures := 0, 0
		for _, id := range ids {
			n, err := a.xpSvc.CheckAutomaticConversions(ctx, id)
			if err != nil {
				failures++
				fmt.Fprintf(os.Stderr, "user %d: %v\n", id, err)
				continue
			}
			converted += n
		}
		fmt.Printf("%d automatic conversions applied\n", converted)
		if failures > 0 {
			return fmt.Errorf("%d users failed", failures)
		}
		return nil

	case "summary":
		if len(args) < 2 {
			return fmt.Errorf("xp summary: USER argument required")
		}
		userID, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("xp summary: invalid user id %q", args[1])
		}
		summary, err := a.xpSvc.Summary(ctx, userID)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(summary, "", "  ")
		fmt.Println(string(out))
		return nil

	default:
		return fmt.Errorf("xp: unknown subcommand %q", args[0])
	}
}

func (a *app) runNotifications(ctx context.Context, args []string) error {
	if len(args) < 3 || args[0] != "test" {
		return fmt.Errorf("notifications: usage: notifications test USER KIND")
	}

	userID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[1])
	}
	u, err := a.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %d: %w", userID, err)
	}

	err = a.notifier.SendTemplated(ctx,
		notification.Recipient{UserID: u.ID, Email: u.Email, Name: u.Name},
		args[2],
		map[string]string{})
	if err != nil {
		return err
	}
	fmt.Printf("test %s queued for %s\n", args[2], u.Email)
	return nil
}

func (a *app) runCalculateScores(ctx context.Context) error {
	n, err := a.retentionSvc.CalculateScores(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d engagement scores updated\n", n)
	return nil
}

func (a *app) runAutomations(ctx context.Context) error {
	n, err := a.retentionSvc.RunAutomations(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d retention messages queued\n", n)
	return nil
}

func (a *app) runBackup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("backup: subcommand required (create | list | restore NAME)")
	}

	switch args[0] {
	case "create":
		snap, err := a.backups.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d bytes)\n", snap.Name, snap.SizeBytes)
		return nil

	case "list":
		snaps, err := a.backups.List()
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Printf("%s\t%d bytes\t%s\n", s.Name, s.SizeBytes, s.CreatedAt.Format(time.RFC3339))
		}
		return nil

	case "restore":
		if len(args) < 2 {
			return fmt.Errorf("backup restore: NAME argument required")
		}
		return a.backups.Restore(ctx, args[1])

	default:
		return fmt.Errorf("backup: unknown subcommand %q", args[0])
	}
}

func fatal(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, "gymctl: "+format+"\n", v...)
	os.Exit(1)
}
