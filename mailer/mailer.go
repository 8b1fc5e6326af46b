// Package mailer provides the single outbound email capability the backend
// needs: Send(to, subject, body).
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer sends a plain-text email. Implementations must be safe for
// concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// Configured reports whether the relay settings are complete enough to
// actually send mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.User != "" && c.Pass != ""
}

// New returns an SMTP-backed Mailer when the config is complete, and a
// log-only fallback otherwise so development proceeds without a relay.
func New(cfg SMTPConfig, logger *slog.Logger) Mailer {
	if !cfg.Configured() {
		return &logMailer{logger: logger}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg SMTPConfig
}

func (m *smtpMailer) Send(_ context.Context, to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending mail to %s: %w", to, err)
	}
	return nil
}

// logMailer logs instead of sending. Intentionally never fails.
type logMailer struct {
	logger *slog.Logger
}

func (m *logMailer) Send(ctx context.Context, to, subject, body string) error {
	m.logger.InfoContext(ctx, "mailer fallback: SMTP not configured, logging instead",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}
