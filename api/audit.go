package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditSignup                AuditEvent = "signup"
	AuditLoginSuccess          AuditEvent = "login_success"
	AuditLoginFailure          AuditEvent = "login_failure"
	AuditLoginRateLimited      AuditEvent = "login_rate_limited"
	AuditLogout                AuditEvent = "logout"
	AuditResetRequested        AuditEvent = "password_reset_requested"
	AuditResetRateLimited      AuditEvent = "password_reset_rate_limited"
	AuditResetConfirmed        AuditEvent = "password_reset_confirmed"
	AuditResetFailed           AuditEvent = "password_reset_failed"
	AuditTemplateCreated       AuditEvent = "template_created"
	AuditTemplateDeactivated   AuditEvent = "template_deactivated"
	AuditScheduleSet           AuditEvent = "schedule_set"
	AuditOccurrenceMarkedPaid  AuditEvent = "occurrence_marked_paid"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. User IDs are logged; emails and
// credential material never are.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logEvent is a convenience for events tied to a user.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user_id", userID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or rejected attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
