package api

import (
	"context"
	"net/http"

	"github.com/lecorbeaured/corisapp/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// AuthMiddleware verifies the session cookie against the current auth version
// of the user and binds the authenticated principal to the request context.
// Any verification failure yields 401 with no detail about the cause.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.sessions.Verify(r.Context(), r)
		if err != nil {
			mapError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRFMiddleware enforces the double-submit check on state-changing methods.
// It runs before session verification so a request that fails CSRF is never
// authenticated at all.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.csrf.Check(r); err != nil {
			mapError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func principalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// mustPrincipal returns the principal bound by AuthMiddleware. Handlers behind
// the middleware can rely on it being present; a miss means a routing bug, and
// the request is rejected rather than served unauthenticated.
func mustPrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		mapError(w, auth.ErrUnauthorized)
		return auth.Principal{}, false
	}
	return p, true
}
