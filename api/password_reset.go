package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lecorbeaured/corisapp/internal/util"
	"github.com/lecorbeaured/corisapp/storage"
)

const (
	resetTokenBytes = 32
	resetTokenTTL   = 30 * time.Minute
	minTokenLength  = 32
)

// resetRequestedMessage is returned whether or not the account exists, so
// the endpoint cannot be used to enumerate registered emails.
const resetRequestedMessage = "If an account exists, a reset email will be sent."

// RequestPasswordReset issues a single-use reset token and emails a reset
// link. The response is identical for known and unknown emails.
func (a *API) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PasswordResetRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	clientIP := extractClientIP(r)
	if blocked, wait := a.resetIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditResetRateLimited, r, "ip backoff")
		writeRateLimited(w, wait)
		return
	}
	a.resetIPLimiter.record(clientIP)

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		// Still generic: a malformed email is not worth distinguishing.
		writeJSON(w, http.StatusOK, OKResponse{OK: true, Message: resetRequestedMessage})
		return
	}

	user, err := a.repo.GetUserByEmail(r.Context(), email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			writeInternalError(w, "lookup user for reset", err)
			return
		}
		a.audit.logFailure(AuditResetRequested, r, "unknown account")
		writeJSON(w, http.StatusOK, OKResponse{OK: true, Message: resetRequestedMessage})
		return
	}

	token, err := util.RandomHex(resetTokenBytes)
	if err != nil {
		writeInternalError(w, "generate reset token", err)
		return
	}

	// Only the hash is stored. A database leak does not expose usable
	// reset tokens.
	expires := time.Now().UTC().Add(resetTokenTTL)
	if _, err := a.repo.CreatePasswordReset(r.Context(), user.ID, util.HashToken(token), expires); err != nil {
		writeInternalError(w, "store reset token", err)
		return
	}

	link := a.publicURL + "/app/reset-password.html?token=" + token
	body := fmt.Sprintf(
		"A password reset was requested for your account.\r\n\r\n"+
			"Open this link to choose a new password:\r\n%s\r\n\r\n"+
			"The link expires in 30 minutes. If you did not request this, ignore this email.\r\n",
		link,
	)
	if err := a.mail.Send(r.Context(), user.Email, "Reset your password", body); err != nil {
		// The token row exists but the email failed; surface an error so
		// the user can retry rather than wait for mail that never comes.
		writeInternalError(w, "send reset email", err)
		return
	}

	a.audit.logEvent(AuditResetRequested, r, user.ID)
	writeJSON(w, http.StatusOK, OKResponse{OK: true, Message: resetRequestedMessage})
}

// ConfirmPasswordReset consumes a reset token and sets a new password. The
// token is consumed first: once spent it cannot authorize a second change
// even if the password update fails. Confirming bumps the user's auth
// version, so every session issued before the reset is dead immediately.
func (a *API) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PasswordResetConfirmRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	if len(req.Token) < minTokenLength {
		a.audit.logFailure(AuditResetFailed, r, "malformed token")
		mapError(w, storage.ErrResetTokenInvalid)
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	userID, err := a.repo.ConsumePasswordReset(r.Context(), util.HashToken(req.Token))
	if err != nil {
		if errors.Is(err, storage.ErrResetTokenInvalid) {
			a.audit.logFailure(AuditResetFailed, r, "invalid or expired token")
			mapError(w, err)
			return
		}
		writeInternalError(w, "consume reset token", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcryptCost)
	if err != nil {
		writeInternalError(w, "hash password", err)
		return
	}

	if err := a.repo.UpdatePasswordAndBumpVersion(r.Context(), userID, string(hash)); err != nil {
		writeInternalError(w, "update password", err)
		return
	}

	// The caller's own session (if any) was just revoked too; clear the
	// cookies so the client starts clean at the login page.
	a.sessions.Clear(w)
	a.csrf.ClearCookie(w)

	a.audit.logEvent(AuditResetConfirmed, r, userID)
	writeJSON(w, http.StatusOK, OKResponse{OK: true, Message: "Password updated. Please sign in again."})
}
