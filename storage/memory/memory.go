// Package memory provides a thread-safe in-memory implementation of
// storage.Repository. Suitable for testing, demos, and single-process use.
//
// The database-resident planning logic (occurrence generation, window
// assignment, reminder scheduling) is opaque to this codebase, so the
// corresponding methods here only record their invocation; tests seed
// windows, occurrences and reminder rows directly through the Seed* helpers.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lecorbeaured/corisapp/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
type Repository struct {
	mu sync.RWMutex

	users     map[string]*storage.User          // by ID
	emails    map[string]string                 // email -> ID
	resets    map[string]*storage.PasswordReset // by token hash
	templates map[string]*storage.BillTemplate
	schedules map[string]*storage.PaySchedule
	occs      map[string]*storage.BillOccurrence
	reminders map[string]*reminderLog

	windowTotals []storage.WindowTotals
	windowItems  []storage.WindowItem

	// Invocation counters for the opaque stored functions.
	GenerateOccurrencesCalls int
	GenerateWindowsCalls     int
	AssignCalls              int
	GenerateRemindersCalls   int
}

type reminderLog struct {
	event      storage.ReminderEvent
	sentAt     *time.Time
	failedAt   *time.Time
	canceledAt *time.Time
	failReason string
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{
		users:     make(map[string]*storage.User),
		emails:    make(map[string]string),
		resets:    make(map[string]*storage.PasswordReset),
		templates: make(map[string]*storage.BillTemplate),
		schedules: make(map[string]*storage.PaySchedule),
		occs:      make(map[string]*storage.BillOccurrence),
		reminders: make(map[string]*reminderLog),
	}
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

func (r *Repository) CreateUser(_ context.Context, email, passwordHash string) (*storage.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := r.emails[key]; ok {
		return nil, storage.ErrDuplicateEmail
	}
	u := &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		AuthVersion:  1,
		CreatedAt:    time.Now().UTC(),
	}
	r.users[u.ID] = u
	r.emails[key] = u.ID
	out := *u
	return &out, nil
}

func (r *Repository) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[strings.ToLower(email)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *r.users[id]
	return &out, nil
}

func (r *Repository) AuthVersion(_ context.Context, userID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return u.AuthVersion, nil
}

func (r *Repository) UpdatePasswordAndBumpVersion(_ context.Context, userID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.AuthVersion++
	return nil
}

// BumpAuthVersion increments a user's auth_version without changing the
// password. Test helper for exercising session revocation.
func (r *Repository) BumpAuthVersion(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.AuthVersion++
	}
}

// DeleteUser removes a user entirely. Test helper.
func (r *Repository) DeleteUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		delete(r.emails, strings.ToLower(u.Email))
		delete(r.users, userID)
	}
}

// ---------------------------------------------------------------------------
// PasswordResetStore
// ---------------------------------------------------------------------------

func (r *Repository) CreatePasswordReset(_ context.Context, userID, tokenHash string, expiresAt time.Time) (*storage.PasswordReset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, pr := range r.resets {
		if pr.UserID == userID && pr.UsedAt == nil {
			used := now
			pr.UsedAt = &used
		}
	}
	pr := &storage.PasswordReset{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	r.resets[tokenHash] = pr
	out := *pr
	return &out, nil
}

func (r *Repository) ConsumePasswordReset(_ context.Context, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pr, ok := r.resets[tokenHash]
	if !ok || pr.UsedAt != nil || time.Now().After(pr.ExpiresAt) {
		return "", storage.ErrResetTokenInvalid
	}
	used := time.Now().UTC()
	pr.UsedAt = &used
	return pr.UserID, nil
}

// ---------------------------------------------------------------------------
// TemplateStore
// ---------------------------------------------------------------------------

func (r *Repository) ListTemplates(_ context.Context, userID string) ([]storage.BillTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.BillTemplate
	for _, t := range r.templates {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(ts []storage.BillTemplate) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].CreatedAt.Before(ts[j-1].CreatedAt); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

func (r *Repository) CreateTemplate(_ context.Context, t *storage.BillTemplate) (*storage.BillTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *t
	stored.ID = uuid.NewString()
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.templates[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *Repository) UpdateTemplate(_ context.Context, userID, templateID string, upd storage.TemplateUpdate) (*storage.BillTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[templateID]
	if !ok || t.UserID != userID {
		return nil, storage.ErrNotFound
	}
	if upd.BillName != nil {
		t.BillName = *upd.BillName
	}
	if upd.Category != nil {
		t.Category = *upd.Category
	}
	if upd.Frequency != nil {
		t.Frequency = *upd.Frequency
	}
	if upd.DueDay != nil {
		t.DueDay = upd.DueDay
	}
	if upd.DefaultAmount != nil {
		t.DefaultAmount = *upd.DefaultAmount
	}
	if upd.IsVariable != nil {
		t.IsVariable = *upd.IsVariable
	}
	if upd.Notes != nil {
		t.Notes = *upd.Notes
	}
	t.UpdatedAt = time.Now().UTC()
	out := *t
	return &out, nil
}

func (r *Repository) DeactivateTemplate(_ context.Context, userID, templateID string) (*storage.BillTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.templates[templateID]
	if !ok || t.UserID != userID {
		return nil, storage.ErrNotFound
	}
	t.IsActive = false
	t.UpdatedAt = time.Now().UTC()
	out := *t
	return &out, nil
}

// ---------------------------------------------------------------------------
// OccurrenceStore
// ---------------------------------------------------------------------------

// SeedOccurrence inserts an occurrence directly. Test helper; returns the
// assigned ID.
func (r *Repository) SeedOccurrence(o storage.BillOccurrence) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	r.occs[o.ID] = &o
	return o.ID
}

// today returns the current UTC date in the ISO form occurrence due dates
// are stored in, so dates compare lexically.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func occurrenceStatus(o *storage.BillOccurrence) string {
	switch {
	case o.PaidDate != nil:
		return "paid"
	case o.DueDate < today():
		return "overdue"
	case o.DueDate == today():
		return "due_today"
	default:
		return "upcoming"
	}
}

func (r *Repository) ListOccurrences(_ context.Context, userID string) ([]storage.BillOccurrence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.BillOccurrence
	for _, o := range r.occs {
		if o.UserID == userID {
			row := *o
			row.Status = occurrenceStatus(o)
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate < out[j].DueDate })
	return out, nil
}

func (r *Repository) UpdateOccurrenceAmount(_ context.Context, userID, occurrenceID string, amount float64) (*storage.BillOccurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.occs[occurrenceID]
	if !ok || o.UserID != userID || o.PaidDate != nil || o.DueDate < today() {
		return nil, storage.ErrNotFound
	}
	if t, ok := r.templates[o.TemplateID]; ok && !t.IsVariable {
		return nil, storage.ErrNotFound
	}
	o.Amount = amount
	o.UpdatedAt = time.Now().UTC()
	out := *o
	return &out, nil
}

func (r *Repository) MarkOccurrencePaid(_ context.Context, userID, occurrenceID string, paidDate *time.Time, amountPaid *float64) (*storage.BillOccurrence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.occs[occurrenceID]
	if !ok || o.UserID != userID {
		return nil, storage.ErrNotFound
	}
	when := time.Now().UTC()
	if paidDate != nil {
		when = *paidDate
	}
	paid := o.Amount
	if amountPaid != nil {
		paid = *amountPaid
	}
	o.PaidDate = &when
	o.AmountPaid = &paid
	o.UpdatedAt = time.Now().UTC()

	// Cancel unsent reminders for the occurrence.
	for _, rl := range r.reminders {
		if rl.event.OccurrenceID == occurrenceID && rl.sentAt == nil && rl.canceledAt == nil {
			now := time.Now().UTC()
			rl.canceledAt = &now
		}
	}
	out := *o
	return &out, nil
}

func (r *Repository) GenerateOccurrences(_ context.Context, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GenerateOccurrencesCalls++
	return nil
}

// ---------------------------------------------------------------------------
// ScheduleStore
// ---------------------------------------------------------------------------

func (r *Repository) ActiveSchedule(_ context.Context, userID string) (*storage.PaySchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.schedules {
		if s.UserID == userID && s.IsActive {
			out := *s
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *Repository) SetSchedule(_ context.Context, s *storage.PaySchedule) (*storage.PaySchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, old := range r.schedules {
		if old.UserID == s.UserID && old.IsActive {
			old.IsActive = false
			old.UpdatedAt = time.Now().UTC()
		}
	}
	now := time.Now().UTC()
	stored := *s
	stored.ID = uuid.NewString()
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.schedules[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (r *Repository) GenerateWindows(_ context.Context, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GenerateWindowsCalls++
	return nil
}

func (r *Repository) AssignToActiveWindows(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.AssignCalls++
	return nil
}

// ---------------------------------------------------------------------------
// PlanningStore
// ---------------------------------------------------------------------------

// SeedWindowTotals replaces the window totals view rows. Test helper.
func (r *Repository) SeedWindowTotals(rows []storage.WindowTotals) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windowTotals = rows
}

// SeedWindowItems replaces the window items view rows. Test helper.
func (r *Repository) SeedWindowItems(rows []storage.WindowItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windowItems = rows
}

func (r *Repository) WindowTotals(_ context.Context, userID string) ([]storage.WindowTotals, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.WindowTotals
	for _, w := range r.windowTotals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *Repository) WindowItems(_ context.Context, userID, windowID string) ([]storage.WindowItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.WindowItem
	for _, it := range r.windowItems {
		if it.UserID == userID && it.WindowID == windowID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *Repository) UnassignedOccurrences(_ context.Context, userID string) ([]storage.BillOccurrence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.BillOccurrence
	for _, o := range r.occs {
		if o.UserID == userID && o.WindowID == nil && o.PaidDate == nil {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *Repository) OccurrencesInInactiveWindows(_ context.Context, _ string) ([]storage.BillOccurrence, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// ReminderStore
// ---------------------------------------------------------------------------

// SeedReminder inserts a reminder log row. Test helper; returns the
// assigned ID.
func (r *Repository) SeedReminder(ev storage.ReminderEvent) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	r.reminders[ev.ID] = &reminderLog{event: ev}
	return ev.ID
}

// ReminderFailure reports the recorded failure reason for a reminder, if
// any. Test helper.
func (r *Repository) ReminderFailure(reminderID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rl, ok := r.reminders[reminderID]
	if !ok || rl.failedAt == nil {
		return "", false
	}
	return rl.failReason, true
}

func (r *Repository) GenerateReminders(_ context.Context, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GenerateRemindersCalls++
	return nil
}

func (r *Repository) PendingReminders(_ context.Context, userID string) ([]storage.ReminderEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.ReminderEvent
	for _, rl := range r.reminders {
		if rl.event.UserID == userID && rl.sentAt == nil && rl.canceledAt == nil {
			out = append(out, rl.event)
		}
	}
	return out, nil
}

func (r *Repository) UpcomingReminders(_ context.Context, userID string) ([]storage.ReminderEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []storage.ReminderEvent
	for _, rl := range r.reminders {
		if rl.event.UserID == userID && rl.sentAt == nil && rl.canceledAt == nil &&
			rl.event.ScheduledSendAt.After(now) {
			out = append(out, rl.event)
		}
	}
	return out, nil
}

func (r *Repository) DueReminders(_ context.Context, limit int) ([]storage.ReminderEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	var out []storage.ReminderEvent
	for _, rl := range r.reminders {
		if rl.event.ReminderType == "due" && rl.sentAt == nil && rl.canceledAt == nil &&
			!rl.event.ScheduledSendAt.After(now) {
			out = append(out, rl.event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledSendAt.Before(out[j].ScheduledSendAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) ReminderDetail(_ context.Context, userID, occurrenceID string) (*storage.ReminderDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.occs[occurrenceID]
	if !ok || o.UserID != userID {
		return nil, storage.ErrNotFound
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	d := &storage.ReminderDetail{
		Email:   u.Email,
		DueDate: o.DueDate,
		Amount:  o.Amount,
	}
	if t, ok := r.templates[o.TemplateID]; ok {
		d.BillName = t.BillName
	}
	return d, nil
}

func (r *Repository) MarkReminderSent(_ context.Context, reminderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl, ok := r.reminders[reminderID]
	if !ok || rl.sentAt != nil || rl.canceledAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	rl.sentAt = &now
	return true, nil
}

func (r *Repository) MarkReminderFailed(_ context.Context, reminderID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rl, ok := r.reminders[reminderID]
	if !ok || rl.canceledAt != nil {
		return nil
	}
	now := time.Now().UTC()
	rl.failedAt = &now
	if len(reason) > 500 {
		reason = reason[:500]
	}
	rl.failReason = reason
	return nil
}
