// Package api implements the HTTP layer of the CORIS backend: routing, the
// CSRF/session request gate, and handlers that delegate to storage.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/lecorbeaured/corisapp/auth"
	"github.com/lecorbeaured/corisapp/mailer"
	"github.com/lecorbeaured/corisapp/storage"
)

// API holds the dependencies needed by the REST handlers. All collaborators
// are injected; handlers never reach into ambient state.
type API struct {
	repo     storage.Repository
	sessions *auth.SessionManager
	csrf     *auth.CSRFGuard
	mail     mailer.Mailer
	audit    *auditLogger

	publicURL string

	loginLimiter   *loginRateLimiter
	loginIPLimiter *ipRateLimiter
	resetIPLimiter *resetRequestLimiter
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events. If not set, a
// default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.audit = newAuditLogger(logger)
	}
}

// WithMailer sets the outbound mailer used for password reset emails.
func WithMailer(m mailer.Mailer) Option {
	return func(a *API) {
		a.mail = m
	}
}

// WithPublicURL sets the frontend base URL used in reset-link emails.
func WithPublicURL(url string) Option {
	return func(a *API) {
		a.publicURL = url
	}
}

// New creates a new API instance.
func New(repo storage.Repository, sessions *auth.SessionManager, csrf *auth.CSRFGuard, opts ...Option) *API {
	a := &API{
		repo:           repo,
		sessions:       sessions,
		csrf:           csrf,
		publicURL:      "http://localhost:5173",
		loginLimiter:   newLoginRateLimiter(),
		loginIPLimiter: newIPRateLimiter(),
		resetIPLimiter: newResetRequestLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	if a.mail == nil {
		a.mail = mailer.New(mailer.SMTPConfig{}, slog.Default())
	}
	return a
}

// Router returns a chi.Router with all API routes mounted. The caller is
// expected to mount it under the versioned prefix (/v1).
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/v1/openapi.yaml",
		Path:    "v1/docs",
	}, nil))

	// Authentication entry points are public: a client with no cookies yet
	// must be able to reach them.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", a.Signup)
		r.Post("/login", a.Login)
		r.Post("/logout", a.Logout)
		r.Get("/csrf", a.IssueCSRF)
		r.With(a.AuthMiddleware).Get("/me", a.Me)
		r.Post("/password-reset/request", a.RequestPasswordReset)
		r.Post("/password-reset/confirm", a.ConfirmPasswordReset)
	})

	// Everything else runs the request gate: CSRF strictly before session
	// verification, so a forged cross-site request is rejected with 403
	// before any authentication work happens.
	r.Group(func(r chi.Router) {
		r.Use(a.CSRFMiddleware)
		r.Use(a.AuthMiddleware)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/me", a.ListTemplates)
			r.Post("/", a.CreateTemplate)
			r.Patch("/{id}", a.UpdateTemplate)
			r.Post("/{id}/deactivate", a.DeactivateTemplate)
		})

		r.Route("/occurrences", func(r chi.Router) {
			r.Get("/me", a.ListOccurrences)
			r.Patch("/{id}/amount", a.UpdateOccurrenceAmount)
			r.Post("/{id}/paid", a.MarkOccurrencePaid)
		})

		r.Route("/schedule", func(r chi.Router) {
			r.Get("/me", a.ActiveSchedule)
			r.Post("/set", a.SetSchedule)
			r.Post("/regenerate", a.RegenerateSchedule)
		})

		r.Route("/planning", func(r chi.Router) {
			r.Get("/windows", a.PlanningWindows)
			r.Get("/window/{windowId}/items", a.WindowItems)
			r.Get("/integrity", a.PlanningIntegrity)
		})

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/generate", a.GenerateReminders)
			r.Get("/pending", a.PendingReminders)
			r.Get("/upcoming", a.UpcomingReminders)
		})
	})

	return r
}
