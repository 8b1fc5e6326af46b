package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lecorbeaured/corisapp/storage"
)

const (
	maxAuthBodySize   = 1 << 16 // 64 KiB
	minPasswordLength = 8
	bcryptCost        = 12
)

// decodeJSON reads and decodes a JSON request body into T. On failure it
// writes a 400 response and returns ok=false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxBytes int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return v, false
	}
	// Reject trailing garbage after the JSON document.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return v, false
	}
	return v, true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Signup registers a new account and immediately establishes a session, so a
// fresh client never has to round-trip through login.
func (a *API) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SignupRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid email address"})
		return
	}
	if len(req.Password) < minPasswordLength {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Password must be at least 8 characters"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		writeInternalError(w, "hash password", err)
		return
	}

	user, err := a.repo.CreateUser(r.Context(), email, string(hash))
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			a.audit.logFailure(AuditSignup, r, "duplicate email")
		}
		mapError(w, err)
		return
	}

	if _, err := a.sessions.Issue(r.Context(), w, user.ID); err != nil {
		writeInternalError(w, "issue session", err)
		return
	}
	csrfToken, err := a.csrf.IssueCookie(w)
	if err != nil {
		writeInternalError(w, "issue csrf cookie", err)
		return
	}

	a.audit.logEvent(AuditSignup, r, user.ID)
	writeJSON(w, http.StatusCreated, AuthResponse{
		User: UserResponse{ID: user.ID, Email: user.Email},
		CSRF: csrfToken,
	})
}

// Login authenticates by email and password. Unknown accounts and wrong
// passwords produce the same response so the endpoint cannot be used to
// probe which emails are registered.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	email := normalizeEmail(req.Email)
	clientIP := extractClientIP(r)

	if blocked, wait := a.loginIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip backoff")
		writeRateLimited(w, wait)
		return
	}
	if blocked, wait := a.loginLimiter.check(email); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account backoff")
		writeRateLimited(w, wait)
		return
	}

	user, err := a.repo.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			writeInternalError(w, "lookup user", err)
			return
		}
		// Burn a comparison anyway so a missing account costs the same
		// as a wrong password.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		a.loginLimiter.recordFailure(email)
		a.loginIPLimiter.recordFailure(clientIP)
		a.audit.logFailure(AuditLoginFailure, r, "unknown account")
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		a.loginLimiter.recordFailure(email)
		a.loginIPLimiter.recordFailure(clientIP)
		a.audit.logFailure(AuditLoginFailure, r, "bad password")
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid credentials"})
		return
	}

	a.loginLimiter.recordSuccess(email)
	a.loginIPLimiter.recordSuccess(clientIP)

	if _, err := a.sessions.Issue(r.Context(), w, user.ID); err != nil {
		writeInternalError(w, "issue session", err)
		return
	}
	csrfToken, err := a.csrf.IssueCookie(w)
	if err != nil {
		writeInternalError(w, "issue csrf cookie", err)
		return
	}

	a.audit.logEvent(AuditLoginSuccess, r, user.ID)
	writeJSON(w, http.StatusOK, AuthResponse{
		User: UserResponse{ID: user.ID, Email: user.Email},
		CSRF: csrfToken,
	})
}

// dummyHash is a valid bcrypt hash of a random string, used to equalize
// timing when the account does not exist.
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// Logout clears the session and CSRF cookies. It is idempotent and succeeds
// whether or not a valid session was presented.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Clear(w)
	a.csrf.ClearCookie(w)
	a.audit.log(AuditLogout, r)
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// Me returns the authenticated user's identity.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{User: UserResponse{ID: p.UserID}})
}

// IssueCSRF mints a fresh CSRF cookie and returns the token so single-page
// clients can resynchronize after a cold load.
func (a *API) IssueCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := a.csrf.IssueCookie(w)
	if err != nil {
		writeInternalError(w, "issue csrf cookie", err)
		return
	}
	writeJSON(w, http.StatusOK, CSRFResponse{CSRF: token})
}
