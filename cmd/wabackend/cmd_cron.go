package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-wa-backend/internal/repo"
	"github.com/tbourn/go-wa-backend/internal/scheduler"
	"github.com/tbourn/go-wa-backend/internal/services"
	"github.com/tbourn/go-wa-backend/internal/whats"
)

func init() {
	rootCmd.AddCommand(cronCmd)
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run the scheduled job executor",
	Long:  "Polls the job table for due scheduled jobs, claims them and delivers their messages through the WhatsApp gateway. Runs until interrupted.",
	RunE:  runCron,
}

func runCron(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	gateway := whats.New(cfg.WhatsApp.BaseURL, cfg.WhatsApp.AccessToken, cfg.WhatsApp.SenderID, cfg.WhatsApp.VerifyToken)

	exec := scheduler.New(services.NewJobService(db), scheduler.SendMessage{Gateway: gateway})
	exec.Interval = cfg.Scheduler.PollInterval
	exec.JobTimeout = cfg.Scheduler.JobTimeout

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Dur("interval", exec.Interval).
		Dur("job_timeout", exec.JobTimeout).
		Str("version", version).
		Msg("job executor started")

	if err := exec.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("job executor: %w", err)
	}
	log.Info().Msg("job executor stopped")
	return nil
}
