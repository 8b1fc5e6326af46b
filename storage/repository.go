// Package storage provides the persistence abstraction for the CORIS
// backend. The authoritative domain logic — occurrence generation, paycheck
// window assignment, reminder scheduling — lives in database views and
// stored functions; the interfaces here expose those operations by name
// with documented pre/post-conditions so the HTTP layer never embeds SQL.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist or is
	// not visible to the requesting user.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateEmail is returned by CreateUser when the email address is
	// already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrResetTokenInvalid is returned when a password reset token is
	// unknown, expired, or already consumed. Callers must not distinguish
	// the three cases to the client.
	ErrResetTokenInvalid = errors.New("reset token invalid")
)

// User is a registered account. AuthVersion starts at 1 and strictly
// increases on every credential-invalidating event; bumping it revokes all
// outstanding session tokens for the user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	AuthVersion  int64
	CreatedAt    time.Time
}

// PasswordReset is a single-use reset token. Only the SHA-256 hash of the
// raw secret is ever persisted.
type PasswordReset struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// BillTemplate is a recurring bill definition owned by a user.
type BillTemplate struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	BillName      string    `json:"bill_name"`
	Category      string    `json:"category"`
	Frequency     string    `json:"frequency"`
	DueDay        *int      `json:"due_day"`
	DefaultAmount float64   `json:"default_amount"`
	IsVariable    bool      `json:"is_variable"`
	Notes         string    `json:"notes"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TemplateUpdate carries the optional fields of a partial template update.
// Nil fields keep their current value.
type TemplateUpdate struct {
	BillName      *string
	Category      *string
	Frequency     *string
	DueDay        *int
	DefaultAmount *float64
	IsVariable    *bool
	Notes         *string
}

// PaySchedule is a user's pay cadence. At most one schedule per user is
// active at a time.
type PaySchedule struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Frequency        string    `json:"frequency"`
	NextPaycheckDate string    `json:"next_paycheck_date"`
	TypicalNetPay    *float64  `json:"typical_net_pay"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BillOccurrence is one concrete instance of a templated bill.
type BillOccurrence struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TemplateID string     `json:"template_id"`
	WindowID   *string    `json:"paycheck_window_id"`
	DueDate    string     `json:"due_date"`
	Amount     float64    `json:"amount"`
	AmountPaid *float64   `json:"amount_paid"`
	PaidDate   *time.Time `json:"paid_date"`
	Status     string     `json:"status,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// WindowTotals is one row of the paycheck window totals view.
type WindowTotals struct {
	WindowID    string  `json:"paycheck_window_id"`
	UserID      string  `json:"user_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date"`
	TotalDue    float64 `json:"total_due"`
	TotalPaid   float64 `json:"total_paid"`
	IsActive    bool    `json:"is_active"`
	BillCount   int     `json:"bill_count"`
	UnpaidCount int     `json:"unpaid_count"`
}

// WindowItem is one occurrence row inside a paycheck window.
type WindowItem struct {
	OccurrenceID string   `json:"occurrence_id"`
	WindowID     string   `json:"paycheck_window_id"`
	UserID       string   `json:"user_id"`
	BillName     string   `json:"bill_name"`
	DueDate      string   `json:"due_date"`
	Amount       float64  `json:"amount"`
	AmountPaid   *float64 `json:"amount_paid"`
	Paid         bool     `json:"paid"`
}

// ReminderEvent is a row of the pending/upcoming reminder views.
type ReminderEvent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	OccurrenceID    string    `json:"occurrence_id"`
	ReminderType    string    `json:"reminder_type"`
	ScheduledSendAt time.Time `json:"scheduled_send_at_utc"`
}

// ReminderDetail is the joined detail the worker needs to compose one
// reminder email.
type ReminderDetail struct {
	Email    string
	BillName string
	DueDate  string
	Amount   float64
}

// UserStore persists account identity and the auth_version revocation
// counter.
type UserStore interface {
	// CreateUser inserts a new user with auth_version 1. Returns
	// ErrDuplicateEmail if the email is taken.
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	// GetUserByEmail returns ErrNotFound for unknown addresses.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// AuthVersion returns the user's current auth_version. A missing user
	// is ErrNotFound — callers treat that as a revoked session, never as a
	// default version.
	AuthVersion(ctx context.Context, userID string) (int64, error)
	// UpdatePasswordAndBumpVersion atomically sets a new password hash and
	// increments auth_version, revoking every outstanding session.
	UpdatePasswordAndBumpVersion(ctx context.Context, userID, passwordHash string) error
}

// PasswordResetStore persists single-use reset tokens (hashes only).
type PasswordResetStore interface {
	// CreatePasswordReset stores a new token hash and invalidates all prior
	// unused tokens for the user.
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*PasswordReset, error)
	// ConsumePasswordReset marks the token used and returns its user ID in
	// one atomic conditional update. It succeeds at most once per token:
	// concurrent confirmations race on the used_at IS NULL condition and
	// only one wins. Unknown, expired, and already-used tokens all return
	// ErrResetTokenInvalid.
	ConsumePasswordReset(ctx context.Context, tokenHash string) (userID string, err error)
}

// TemplateStore persists recurring bill templates.
type TemplateStore interface {
	ListTemplates(ctx context.Context, userID string) ([]BillTemplate, error)
	CreateTemplate(ctx context.Context, t *BillTemplate) (*BillTemplate, error)
	// UpdateTemplate applies the non-nil fields of upd. ErrNotFound if the
	// template does not exist or belongs to another user.
	UpdateTemplate(ctx context.Context, userID, templateID string, upd TemplateUpdate) (*BillTemplate, error)
	DeactivateTemplate(ctx context.Context, userID, templateID string) (*BillTemplate, error)
}

// OccurrenceStore persists bill occurrences and invokes the occurrence
// generation functions.
type OccurrenceStore interface {
	// ListOccurrences returns the user's occurrences due date ascending,
	// each with a derived Status: paid, overdue, due_today or upcoming.
	ListOccurrences(ctx context.Context, userID string) ([]BillOccurrence, error)
	// UpdateOccurrenceAmount changes the amount of a variable, unpaid,
	// not-yet-due occurrence. Anything else is ErrNotFound.
	UpdateOccurrenceAmount(ctx context.Context, userID, occurrenceID string, amount float64) (*BillOccurrence, error)
	// MarkOccurrencePaid records payment, defaulting paid date to now and
	// amount paid to the occurrence amount, and cancels its unsent
	// reminders.
	MarkOccurrencePaid(ctx context.Context, userID, occurrenceID string, paidDate *time.Time, amountPaid *float64) (*BillOccurrence, error)
	// GenerateOccurrences materialises future occurrences for the user's
	// active templates over the given horizon. Idempotent.
	GenerateOccurrences(ctx context.Context, userID string, horizonDays int) error
}

// ScheduleStore persists pay schedules and invokes window generation.
type ScheduleStore interface {
	// ActiveSchedule returns ErrNotFound when the user has no active
	// schedule.
	ActiveSchedule(ctx context.Context, userID string) (*PaySchedule, error)
	// SetSchedule deactivates the current schedule (if any) and inserts the
	// new one as active, in a single statement.
	SetSchedule(ctx context.Context, s *PaySchedule) (*PaySchedule, error)
	// GenerateWindows materialises paycheck windows for the schedule over
	// the horizon. Idempotent.
	GenerateWindows(ctx context.Context, scheduleID string, horizonDays int) error
	// AssignToActiveWindows places unassigned future occurrences into
	// active windows. Idempotent.
	AssignToActiveWindows(ctx context.Context, userID string) error
}

// PlanningStore reads the planning views.
type PlanningStore interface {
	WindowTotals(ctx context.Context, userID string) ([]WindowTotals, error)
	WindowItems(ctx context.Context, userID, windowID string) ([]WindowItem, error)
	UnassignedOccurrences(ctx context.Context, userID string) ([]BillOccurrence, error)
	OccurrencesInInactiveWindows(ctx context.Context, userID string) ([]BillOccurrence, error)
}

// ReminderStore persists reminder schedules and the send log consumed by
// the batch worker.
type ReminderStore interface {
	GenerateReminders(ctx context.Context, userID string, horizonDays int) error
	PendingReminders(ctx context.Context, userID string) ([]ReminderEvent, error)
	UpcomingReminders(ctx context.Context, userID string) ([]ReminderEvent, error)
	// DueReminders returns up to limit due-type events scheduled to send by
	// now, oldest first, across all users.
	DueReminders(ctx context.Context, limit int) ([]ReminderEvent, error)
	ReminderDetail(ctx context.Context, userID, occurrenceID string) (*ReminderDetail, error)
	// MarkReminderSent records a successful send only if the row is still
	// unsent and not canceled. The conditional update is the at-most-once
	// guarantee: with concurrent workers exactly one MarkReminderSent per
	// reminder returns true.
	MarkReminderSent(ctx context.Context, reminderID string) (bool, error)
	// MarkReminderFailed stamps the failure time and a truncated reason on
	// any non-canceled row, including one already claimed by
	// MarkReminderSent: a send failure after the claim must still be
	// visible even though the claim stands and the row is never retried.
	MarkReminderFailed(ctx context.Context, reminderID, reason string) error
}

// Repository is the full persistence surface of the backend.
type Repository interface {
	UserStore
	PasswordResetStore
	TemplateStore
	OccurrenceStore
	ScheduleStore
	PlanningStore
	ReminderStore
}
