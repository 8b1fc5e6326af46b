package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lecorbeaured/corisapp/config"
	"github.com/lecorbeaured/corisapp/mailer"
	"github.com/lecorbeaured/corisapp/storage/postgres"
	"github.com/lecorbeaured/corisapp/worker"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Send due-today reminder emails and exit",
	Long: `Processes one batch of due reminder events. Intended to run from
cron; each reminder is sent at most once even with overlapping runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer repo.Close()

		mail := mailer.New(mailer.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		}, logger)

		stats, err := worker.New(repo, mail, logger, cfg.ReminderBatchSize).Run(ctx)
		if err != nil {
			return fmt.Errorf("reminder run: %w", err)
		}
		if stats.Failed > 0 {
			return fmt.Errorf("reminder run finished with %d failures", stats.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(remindersCmd)
}
