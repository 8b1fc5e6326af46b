// Package postgres implements storage.Repository backed by PostgreSQL.
//
// Table access goes through pgx. The planning and reminder domain logic —
// occurrence generation, paycheck window assignment, reminder scheduling —
// is implemented as database views and stored functions (the coris_* family
// and v_* views) provisioned with the schema phases; this package invokes
// them by name and treats them as opaque.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lecorbeaured/corisapp/storage"
)

// Names of the stored functions provisioned by the database phases.
const (
	fnGenerateOccurrences = "coris_generate_bill_occurrences_for_user"
	fnGenerateWindows     = "coris_generate_paycheck_windows_for_schedule"
	fnAssignToWindows     = "coris_assign_occurrences_to_active_windows"
	fnGenerateReminders   = "coris_generate_default_reminders_for_user"
	fnCancelReminders     = "coris_cancel_unsent_reminders_for_occurrence"
	fnUserToday           = "coris_user_today"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, runs
// pending migrations, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := RunMigrations(ctx, dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return NewRepository(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// ---------------------------------------------------------------------------
// UserStore
// ---------------------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*storage.User, error) {
	u := &storage.User{Email: email, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, created_at)
		 VALUES ($1, $2, NOW())
		 RETURNING id, auth_version, created_at`,
		email, passwordHash).Scan(&u.ID, &u.AuthVersion, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, storage.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	u := &storage.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, auth_version, created_at
		 FROM users WHERE email = $1`,
		email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.AuthVersion, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return u, nil
}

func (s *Store) AuthVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := s.pool.QueryRow(ctx,
		`SELECT auth_version FROM users WHERE id = $1`, userID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("selecting auth_version: %w", err)
	}
	return v, nil
}

func (s *Store) UpdatePasswordAndBumpVersion(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET password_hash = $1,
		     auth_version = auth_version + 1
		 WHERE id = $2`,
		passwordHash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// PasswordResetStore
// ---------------------------------------------------------------------------

func (s *Store) CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*storage.PasswordReset, error) {
	// Supersede all prior unused tokens for this user.
	if _, err := s.pool.Exec(ctx,
		`UPDATE password_resets SET used_at = NOW()
		 WHERE user_id = $1 AND used_at IS NULL`,
		userID); err != nil {
		return nil, fmt.Errorf("invalidating prior reset tokens: %w", err)
	}

	pr := &storage.PasswordReset{UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO password_resets (user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		userID, tokenHash, expiresAt).Scan(&pr.ID, &pr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting reset token: %w", err)
	}
	return pr, nil
}

func (s *Store) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	// Single conditional update: at most one caller ever sees a row here,
	// regardless of concurrent confirmations with the same token.
	var userID string
	err := s.pool.QueryRow(ctx,
		`UPDATE password_resets
		 SET used_at = NOW()
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		 RETURNING user_id`,
		tokenHash).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("consuming reset token: %w", err)
	}
	return userID, nil
}

// ---------------------------------------------------------------------------
// TemplateStore
// ---------------------------------------------------------------------------

const templateColumns = `id, user_id, bill_name, category, frequency, due_day,
	default_amount, is_variable, notes, is_active, created_at, updated_at`

func scanTemplate(row pgx.Row) (*storage.BillTemplate, error) {
	t := &storage.BillTemplate{}
	err := row.Scan(&t.ID, &t.UserID, &t.BillName, &t.Category, &t.Frequency,
		&t.DueDay, &t.DefaultAmount, &t.IsVariable, &t.Notes, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID string) ([]storage.BillTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM bill_templates WHERE user_id = $1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.BillTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTemplate(ctx context.Context, t *storage.BillTemplate) (*storage.BillTemplate, error) {
	return scanTemplate(s.pool.QueryRow(ctx,
		`INSERT INTO bill_templates
		   (user_id, bill_name, category, frequency, due_day, default_amount,
		    is_variable, notes, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW(), NOW())
		 RETURNING `+templateColumns,
		t.UserID, t.BillName, t.Category, t.Frequency, t.DueDay,
		t.DefaultAmount, t.IsVariable, t.Notes))
}

func (s *Store) UpdateTemplate(ctx context.Context, userID, templateID string, upd storage.TemplateUpdate) (*storage.BillTemplate, error) {
	return scanTemplate(s.pool.QueryRow(ctx,
		`UPDATE bill_templates
		 SET bill_name = COALESCE($1, bill_name),
		     category = COALESCE($2, category),
		     frequency = COALESCE($3, frequency),
		     due_day = COALESCE($4, due_day),
		     default_amount = COALESCE($5, default_amount),
		     is_variable = COALESCE($6, is_variable),
		     notes = COALESCE($7, notes),
		     updated_at = NOW()
		 WHERE id = $8 AND user_id = $9
		 RETURNING `+templateColumns,
		upd.BillName, upd.Category, upd.Frequency, upd.DueDay,
		upd.DefaultAmount, upd.IsVariable, upd.Notes, templateID, userID))
}

func (s *Store) DeactivateTemplate(ctx context.Context, userID, templateID string) (*storage.BillTemplate, error) {
	return scanTemplate(s.pool.QueryRow(ctx,
		`UPDATE bill_templates
		 SET is_active = FALSE, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+templateColumns,
		templateID, userID))
}

// ---------------------------------------------------------------------------
// OccurrenceStore
// ---------------------------------------------------------------------------

const occurrenceColumns = `id, user_id, template_id, paycheck_window_id,
	due_date::text, amount, amount_paid, paid_date, created_at, updated_at`

func scanOccurrence(row pgx.Row) (*storage.BillOccurrence, error) {
	o := &storage.BillOccurrence{}
	err := row.Scan(&o.ID, &o.UserID, &o.TemplateID, &o.WindowID, &o.DueDate,
		&o.Amount, &o.AmountPaid, &o.PaidDate, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOccurrences(ctx context.Context, userID string) ([]storage.BillOccurrence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+occurrenceColumns+`, status
		 FROM v_bill_occurrences_status
		 WHERE user_id = $1 ORDER BY due_date ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.BillOccurrence
	for rows.Next() {
		o := storage.BillOccurrence{}
		if err := rows.Scan(&o.ID, &o.UserID, &o.TemplateID, &o.WindowID,
			&o.DueDate, &o.Amount, &o.AmountPaid, &o.PaidDate,
			&o.CreatedAt, &o.UpdatedAt, &o.Status); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpdateOccurrenceAmount(ctx context.Context, userID, occurrenceID string, amount float64) (*storage.BillOccurrence, error) {
	// Immutability guards: only variable, unpaid, not-yet-due occurrences
	// may be repriced.
	return scanOccurrence(s.pool.QueryRow(ctx,
		`UPDATE bill_occurrences bo
		 SET amount = $1, updated_at = NOW()
		 FROM bill_templates bt
		 WHERE bo.id = $2 AND bo.user_id = $3
		   AND bo.template_id = bt.id
		   AND bt.is_variable = TRUE
		   AND bo.paid_date IS NULL
		   AND bo.due_date >= `+fnUserToday+`(bo.user_id)
		 RETURNING bo.id, bo.user_id, bo.template_id, bo.paycheck_window_id,
		   bo.due_date::text, bo.amount, bo.amount_paid, bo.paid_date,
		   bo.created_at, bo.updated_at`,
		amount, occurrenceID, userID))
}

func (s *Store) MarkOccurrencePaid(ctx context.Context, userID, occurrenceID string, paidDate *time.Time, amountPaid *float64) (*storage.BillOccurrence, error) {
	o, err := scanOccurrence(s.pool.QueryRow(ctx,
		`UPDATE bill_occurrences
		 SET paid_date = COALESCE($1::timestamptz, NOW()),
		     amount_paid = COALESCE($2::numeric, amount),
		     updated_at = NOW()
		 WHERE id = $3 AND user_id = $4
		 RETURNING `+occurrenceColumns,
		paidDate, amountPaid, occurrenceID, userID))
	if err != nil {
		return nil, err
	}

	// Suppress reminders immediately.
	if _, err := s.pool.Exec(ctx,
		`SELECT `+fnCancelReminders+`($1, 'paid')`, occurrenceID); err != nil {
		return nil, fmt.Errorf("canceling reminders: %w", err)
	}
	return o, nil
}

func (s *Store) GenerateOccurrences(ctx context.Context, userID string, horizonDays int) error {
	_, err := s.pool.Exec(ctx,
		`SELECT `+fnGenerateOccurrences+`($1, $2)`, userID, horizonDays)
	return err
}

// ---------------------------------------------------------------------------
// ScheduleStore
// ---------------------------------------------------------------------------

const scheduleColumns = `id, user_id, frequency, next_paycheck_date::text,
	typical_net_pay, is_active, created_at, updated_at`

func scanSchedule(row pgx.Row) (*storage.PaySchedule, error) {
	ps := &storage.PaySchedule{}
	err := row.Scan(&ps.ID, &ps.UserID, &ps.Frequency, &ps.NextPaycheckDate,
		&ps.TypicalNetPay, &ps.IsActive, &ps.CreatedAt, &ps.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ps, nil
}

func (s *Store) ActiveSchedule(ctx context.Context, userID string) (*storage.PaySchedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM pay_schedules WHERE user_id = $1 AND is_active = TRUE`,
		userID))
}

func (s *Store) SetSchedule(ctx context.Context, sch *storage.PaySchedule) (*storage.PaySchedule, error) {
	return scanSchedule(s.pool.QueryRow(ctx,
		`WITH deact AS (
		   UPDATE pay_schedules SET is_active = FALSE, updated_at = NOW()
		   WHERE user_id = $1 AND is_active = TRUE
		   RETURNING id
		 ),
		 ins AS (
		   INSERT INTO pay_schedules
		     (user_id, frequency, next_paycheck_date, typical_net_pay, is_active, created_at, updated_at)
		   VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		   RETURNING `+scheduleColumns+`
		 )
		 SELECT * FROM ins`,
		sch.UserID, sch.Frequency, sch.NextPaycheckDate, sch.TypicalNetPay))
}

func (s *Store) GenerateWindows(ctx context.Context, scheduleID string, horizonDays int) error {
	_, err := s.pool.Exec(ctx,
		`SELECT `+fnGenerateWindows+`($1, $2)`, scheduleID, horizonDays)
	return err
}

func (s *Store) AssignToActiveWindows(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`SELECT `+fnAssignToWindows+`($1)`, userID)
	return err
}

// ---------------------------------------------------------------------------
// PlanningStore
// ---------------------------------------------------------------------------

func (s *Store) WindowTotals(ctx context.Context, userID string) ([]storage.WindowTotals, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT paycheck_window_id, user_id, start_date::text, end_date::text,
		   total_due, total_paid, is_active, bill_count, unpaid_count
		 FROM v_paycheck_window_totals
		 WHERE user_id = $1 ORDER BY start_date ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.WindowTotals
	for rows.Next() {
		w := storage.WindowTotals{}
		if err := rows.Scan(&w.WindowID, &w.UserID, &w.StartDate, &w.EndDate,
			&w.TotalDue, &w.TotalPaid, &w.IsActive, &w.BillCount,
			&w.UnpaidCount); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) WindowItems(ctx context.Context, userID, windowID string) ([]storage.WindowItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT occurrence_id, paycheck_window_id, user_id, bill_name,
		   due_date::text, amount, amount_paid, paid
		 FROM v_paycheck_window_items
		 WHERE paycheck_window_id = $1 AND user_id = $2
		 ORDER BY due_date ASC`,
		windowID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.WindowItem
	for rows.Next() {
		it := storage.WindowItem{}
		if err := rows.Scan(&it.OccurrenceID, &it.WindowID, &it.UserID,
			&it.BillName, &it.DueDate, &it.Amount, &it.AmountPaid,
			&it.Paid); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) listOccurrenceView(ctx context.Context, view, userID string) ([]storage.BillOccurrence, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+occurrenceColumns+`
		 FROM `+view+`
		 WHERE user_id = $1 ORDER BY due_date ASC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.BillOccurrence
	for rows.Next() {
		o := storage.BillOccurrence{}
		if err := rows.Scan(&o.ID, &o.UserID, &o.TemplateID, &o.WindowID,
			&o.DueDate, &o.Amount, &o.AmountPaid, &o.PaidDate,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UnassignedOccurrences(ctx context.Context, userID string) ([]storage.BillOccurrence, error) {
	return s.listOccurrenceView(ctx, "v_unassigned_future_unpaid_occurrences", userID)
}

func (s *Store) OccurrencesInInactiveWindows(ctx context.Context, userID string) ([]storage.BillOccurrence, error) {
	return s.listOccurrenceView(ctx, "v_occurrences_assigned_to_inactive_windows", userID)
}

// ---------------------------------------------------------------------------
// ReminderStore
// ---------------------------------------------------------------------------

func (s *Store) GenerateReminders(ctx context.Context, userID string, horizonDays int) error {
	_, err := s.pool.Exec(ctx,
		`SELECT `+fnGenerateReminders+`($1, $2)`, userID, horizonDays)
	return err
}

func (s *Store) listReminderView(ctx context.Context, query string, args ...any) ([]storage.ReminderEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ReminderEvent
	for rows.Next() {
		ev := storage.ReminderEvent{}
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.OccurrenceID,
			&ev.ReminderType, &ev.ScheduledSendAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const reminderColumns = `id, user_id, occurrence_id, reminder_type, scheduled_send_at_utc`

func (s *Store) PendingReminders(ctx context.Context, userID string) ([]storage.ReminderEvent, error) {
	return s.listReminderView(ctx,
		`SELECT `+reminderColumns+`
		 FROM v_pending_reminder_events WHERE user_id = $1`, userID)
}

func (s *Store) UpcomingReminders(ctx context.Context, userID string) ([]storage.ReminderEvent, error) {
	return s.listReminderView(ctx,
		`SELECT `+reminderColumns+`
		 FROM v_upcoming_reminder_events WHERE user_id = $1`, userID)
}

func (s *Store) DueReminders(ctx context.Context, limit int) ([]storage.ReminderEvent, error) {
	return s.listReminderView(ctx,
		`SELECT `+reminderColumns+`
		 FROM v_pending_reminder_events
		 WHERE reminder_type = 'due' AND scheduled_send_at_utc <= NOW()
		 ORDER BY scheduled_send_at_utc ASC
		 LIMIT $1`, limit)
}

func (s *Store) ReminderDetail(ctx context.Context, userID, occurrenceID string) (*storage.ReminderDetail, error) {
	d := &storage.ReminderDetail{}
	err := s.pool.QueryRow(ctx,
		`SELECT u.email, bt.bill_name, bo.due_date::text, bo.amount
		 FROM bill_occurrences bo
		 JOIN bill_templates bt ON bt.id = bo.template_id
		 JOIN users u ON u.id = bo.user_id
		 WHERE bo.id = $1 AND bo.user_id = $2`,
		occurrenceID, userID).Scan(&d.Email, &d.BillName, &d.DueDate, &d.Amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, reminderID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminder_logs
		 SET sent_at_utc = NOW()
		 WHERE id = $1 AND sent_at_utc IS NULL AND canceled_at_utc IS NULL`,
		reminderID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkReminderFailed(ctx context.Context, reminderID, reason string) error {
	// No sent_at guard here: a send that fails after the claim keeps the
	// claim (so the reminder is never retried) but still gets its failure
	// recorded for operators.
	_, err := s.pool.Exec(ctx,
		`UPDATE reminder_logs
		 SET failed_at_utc = NOW(),
		     failure_reason = LEFT($2, 500)
		 WHERE id = $1 AND canceled_at_utc IS NULL`,
		reminderID, reason)
	return err
}
