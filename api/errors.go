package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lecorbeaured/corisapp/auth"
	"github.com/lecorbeaured/corisapp/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs the cause and returns only the generic message.
// Store and library error text never reaches the client.
func writeInternalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// mapError translates storage and auth errors to the fixed status codes of
// the HTTP boundary. Reset-token failures share one generic body so expired,
// used, and never-existed tokens are indistinguishable to the caller.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, auth.ErrCSRF):
		writeError(w, http.StatusForbidden, "CSRF token missing or invalid")
	case errors.Is(err, storage.ErrResetTokenInvalid):
		writeError(w, http.StatusBadRequest, "Invalid or expired token")
	case errors.Is(err, storage.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeInternalError(w, "internal error", err)
	}
}
