// Package worker implements the due-today reminder batch job. It is run
// from cron via the reminders command; one invocation drains at most one
// batch and exits.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lecorbeaured/corisapp/mailer"
	"github.com/lecorbeaured/corisapp/storage"
)

// Stats summarises one worker run.
type Stats struct {
	Sent    int
	Skipped int
	Failed  int
}

// Worker sends due-today reminder emails.
type Worker struct {
	repo      storage.Repository
	mail      mailer.Mailer
	logger    *slog.Logger
	batchSize int
}

// New creates a Worker. batchSize caps how many reminders one run processes.
func New(repo storage.Repository, mail mailer.Mailer, logger *slog.Logger, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		repo:      repo,
		mail:      mail,
		logger:    logger.With("component", "reminder_worker"),
		batchSize: batchSize,
	}
}

// Run processes one batch of due reminders. Each reminder is sent at most
// once: the conditional update claims the row before any mail goes out, so
// concurrent workers and crashed runs can drop a reminder but never
// duplicate it. A failure on one reminder is recorded and does not stop
// the batch.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	due, err := w.repo.DueReminders(ctx, w.batchSize)
	if err != nil {
		return stats, fmt.Errorf("fetch due reminders: %w", err)
	}
	w.logger.Info("reminder batch start", "due", len(due))

	for _, ev := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		detail, err := w.repo.ReminderDetail(ctx, ev.UserID, ev.OccurrenceID)
		if err != nil {
			stats.Failed++
			w.logger.Error("reminder detail lookup failed", "reminder_id", ev.ID, "error", err)
			if merr := w.repo.MarkReminderFailed(ctx, ev.ID, "detail lookup: "+err.Error()); merr != nil {
				w.logger.Error("mark reminder failed", "reminder_id", ev.ID, "error", merr)
			}
			continue
		}

		claimed, err := w.repo.MarkReminderSent(ctx, ev.ID)
		if err != nil {
			stats.Failed++
			w.logger.Error("claim reminder failed", "reminder_id", ev.ID, "error", err)
			continue
		}
		if !claimed {
			// Another worker got here first, or the reminder was canceled
			// between fetch and claim.
			stats.Skipped++
			continue
		}

		subject := fmt.Sprintf("Bill due today: %s", detail.BillName)
		body := fmt.Sprintf(
			"Your bill %q for $%.2f is due today (%s).\r\n",
			detail.BillName, detail.Amount, detail.DueDate,
		)
		if err := w.mail.Send(ctx, detail.Email, subject, body); err != nil {
			stats.Failed++
			w.logger.Error("reminder send failed", "reminder_id", ev.ID, "error", err)
			if merr := w.repo.MarkReminderFailed(ctx, ev.ID, "send: "+err.Error()); merr != nil {
				w.logger.Error("mark reminder failed", "reminder_id", ev.ID, "error", merr)
			}
			continue
		}
		stats.Sent++
	}

	w.logger.Info("reminder batch done",
		"sent", stats.Sent, "skipped", stats.Skipped, "failed", stats.Failed)
	return stats, nil
}
