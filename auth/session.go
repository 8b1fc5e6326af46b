package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SessionCookieName holds the signed session token. HttpOnly.
const SessionCookieName = "coris_session"

// ErrUnauthorized is returned for every session verification failure:
// missing cookie, bad signature, expired token, revoked version, or a store
// failure during the version lookup. Wrapped causes stay available for
// logging; the HTTP boundary collapses all of them to a single 401.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is the minimal identity a verified session resolves to. No
// other token claims are exposed to callers.
type Principal struct {
	UserID string
}

// VersionSource reads a user's current auth_version. Backed by the user
// store in production; mockable in tests without a real database.
type VersionSource interface {
	AuthVersion(ctx context.Context, userID string) (int64, error)
}

// CookiePolicy carries the deployment-driven cookie attributes shared by
// the session and CSRF cookies.
type CookiePolicy struct {
	// Secure sets the Secure attribute. Should be true anywhere TLS
	// terminates in front of the service.
	Secure bool
	// Domain scopes the cookies to a host. Empty means host-only.
	Domain string
}

// SessionManager issues, verifies, and clears cookie-borne sessions.
// Sessions are stateless signed tokens; revocation works by bumping the
// user's auth_version, which invalidates every outstanding token at the
// cost of one store lookup per authenticated request.
type SessionManager struct {
	codec    *TokenCodec
	versions VersionSource
	policy   CookiePolicy
}

// NewSessionManager creates a SessionManager. All dependencies are explicit;
// nothing is read from ambient state at request time.
func NewSessionManager(codec *TokenCodec, versions VersionSource, policy CookiePolicy) *SessionManager {
	return &SessionManager{codec: codec, versions: versions, policy: policy}
}

// Issue signs a session token bound to the user's current auth_version and
// sets it as the session cookie. The user must exist: a failed version
// lookup fails the issue rather than defaulting.
func (m *SessionManager) Issue(ctx context.Context, w http.ResponseWriter, userID string) (string, error) {
	version, err := m.versions.AuthVersion(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("reading auth version: %w", err)
	}
	token, err := m.codec.Sign(userID, version)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.policy.Domain,
		HttpOnly: true,
		Secure:   m.policy.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionTTL.Seconds()),
	})
	return token, nil
}

// Clear removes the session cookie. The attributes must match Issue exactly
// or browsers will not delete the cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.policy.Domain,
		HttpOnly: true,
		Secure:   m.policy.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Verify parses and cryptographically verifies the session cookie, then
// re-reads the user's current auth_version and rejects the token if it no
// longer matches — the revocation path for password changes and forced
// logout. Every failure, including a store error or a deleted user, is
// ErrUnauthorized: verification fails closed, never open.
func (m *SessionManager) Verify(ctx context.Context, r *http.Request) (Principal, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return Principal{}, fmt.Errorf("%w: no session cookie", ErrUnauthorized)
	}

	claims, err := m.codec.Parse(cookie.Value)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: invalid session token: %v", ErrUnauthorized, err)
	}

	current, err := m.versions.AuthVersion(ctx, claims.Subject)
	if err != nil {
		// Covers user-not-found (deleted after issuance) and store
		// failures alike.
		return Principal{}, fmt.Errorf("%w: auth version lookup: %v", ErrUnauthorized, err)
	}
	if current != claims.Version {
		return Principal{}, fmt.Errorf("%w: session revoked", ErrUnauthorized)
	}

	return Principal{UserID: claims.Subject}, nil
}
