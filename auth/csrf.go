package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lecorbeaured/corisapp/internal/util"
)

const (
	// CSRFCookieName holds the double-submit token. Intentionally NOT
	// HttpOnly so browser-side code can read it and echo it back as a
	// request header on mutating requests.
	CSRFCookieName = "coris_csrf"
	// CSRFHeaderName is the request header that must match the cookie on
	// unsafe methods.
	CSRFHeaderName = "X-CSRF-Token"

	// csrfTokenBytes is the entropy of an issued token (256 bits).
	csrfTokenBytes = 32
)

// ErrCSRF is returned when the double-submit check fails on an unsafe
// method. The HTTP boundary maps it to 403.
var ErrCSRF = errors.New("CSRF token missing or invalid")

// CSRFGuard implements double-submit cookie CSRF protection. It issues an
// unguessable random token as a readable cookie and requires unsafe
// requests to echo the value in a header. No server-side store is involved:
// a cross-site attacker cannot read the victim's cookie and therefore
// cannot reproduce it in the header.
type CSRFGuard struct {
	policy  CookiePolicy
	enforce bool
}

// NewCSRFGuard creates a guard. When enforce is false Check always passes —
// the escape hatch for non-browser clients.
func NewCSRFGuard(policy CookiePolicy, enforce bool) *CSRFGuard {
	return &CSRFGuard{policy: policy, enforce: enforce}
}

// IssueCookie generates a fresh random token and sets it as the readable
// CSRF cookie with the same attribute policy as the session cookie. The
// token is returned so callers can also deliver it in a response body.
func (g *CSRFGuard) IssueCookie(w http.ResponseWriter) (string, error) {
	raw, err := util.RandomBytes(csrfTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generating CSRF token: %w", err)
	}
	token := hex.EncodeToString(raw)
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.policy.Domain,
		HttpOnly: false,
		Secure:   g.policy.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionTTL.Seconds()),
	})
	return token, nil
}

// ClearCookie removes the CSRF cookie.
func (g *CSRFGuard) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		Domain:   g.policy.Domain,
		HttpOnly: false,
		Secure:   g.policy.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

// Check enforces the double-submit comparison on unsafe methods. Safe
// methods always pass, as does everything when enforcement is off. The
// comparison is exact and constant-time.
func (g *CSRFGuard) Check(r *http.Request) error {
	if !g.enforce {
		return nil
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	header := r.Header.Get(CSRFHeaderName)
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" || header == "" {
		return ErrCSRF
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return ErrCSRF
	}
	return nil
}
