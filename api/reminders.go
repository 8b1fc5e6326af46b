package api

import "net/http"

// GenerateReminders materialises reminder events for the user's unpaid
// occurrences over the reminder horizon. Idempotent.
func (a *API) GenerateReminders(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	if err := a.repo.GenerateReminders(r.Context(), p.UserID, reminderHorizonDays); err != nil {
		writeInternalError(w, "generate reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// PendingReminders returns reminder events that are due to send but have
// not been picked up by the worker yet.
func (a *API) PendingReminders(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	events, err := a.repo.PendingReminders(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "pending reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, RemindersResponse{Reminders: events})
}

// UpcomingReminders returns reminder events scheduled for the future.
func (a *API) UpcomingReminders(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	events, err := a.repo.UpcomingReminders(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "upcoming reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, RemindersResponse{Reminders: events})
}
