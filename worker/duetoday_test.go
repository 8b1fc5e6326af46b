package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecorbeaured/corisapp/storage"
	"github.com/lecorbeaured/corisapp/storage/memory"
	"github.com/lecorbeaured/corisapp/worker"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, to)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDueReminder(t *testing.T, repo *memory.Repository, email string) (userID, reminderID string) {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), email, "hash")
	require.NoError(t, err)
	occID := repo.SeedOccurrence(storage.BillOccurrence{
		UserID:  u.ID,
		DueDate: "2026-09-01",
		Amount:  42,
	})
	remID := repo.SeedReminder(storage.ReminderEvent{
		UserID:          u.ID,
		OccurrenceID:    occID,
		ReminderType:    "due",
		ScheduledSendAt: time.Now().Add(-time.Hour),
	})
	return u.ID, remID
}

func TestRunSendsDueReminders(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{}
	seedDueReminder(t, repo, "pay@example.com")

	stats, err := worker.New(repo, mail, discardLogger(), 10).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, []string{"pay@example.com"}, mail.sent)
}

func TestRunIsAtMostOnce(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{}
	seedDueReminder(t, repo, "once@example.com")

	w := worker.New(repo, mail, discardLogger(), 10)

	stats, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	// The second run finds nothing: the conditional claim already
	// consumed the row.
	stats, err = w.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
	assert.Len(t, mail.sent, 1)
}

func TestRunRecordsSendFailures(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{fail: true}
	_, remID := seedDueReminder(t, repo, "fail@example.com")

	stats, err := worker.New(repo, mail, discardLogger(), 10).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
	assert.Equal(t, 1, stats.Failed)

	// The failure is recorded on the row even though the claim already
	// consumed it.
	reason, recorded := repo.ReminderFailure(remID)
	require.True(t, recorded)
	assert.Contains(t, reason, "smtp unavailable")

	// The claim stands: a later run with a healthy mailer must not resend.
	mail.fail = false
	stats, err = worker.New(repo, mail, discardLogger(), 10).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
	assert.Empty(t, mail.sent)
}

func TestRunSkipsCanceledReminders(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{}
	userID, _ := seedDueReminder(t, repo, "canceled@example.com")

	// Paying the bill cancels its unsent reminders.
	occs, err := repo.ListOccurrences(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, occs, 1)
	_, err = repo.MarkOccurrencePaid(context.Background(), userID, occs[0].ID, nil, nil)
	require.NoError(t, err)

	stats, err := worker.New(repo, mail, discardLogger(), 10).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
	assert.Empty(t, mail.sent)
}

func TestRunHonorsBatchSize(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{}
	for i := 0; i < 5; i++ {
		seedDueReminder(t, repo, fmt.Sprintf("batch%d@example.com", i))
	}

	stats, err := worker.New(repo, mail, discardLogger(), 3).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Sent)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	repo := memory.NewRepository()
	mail := &fakeMailer{}
	seedDueReminder(t, repo, "ctx@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.New(repo, mail, discardLogger(), 10).Run(ctx)
	assert.Error(t, err)
}
