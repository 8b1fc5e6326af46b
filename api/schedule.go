package api

import (
	"net/http"
	"time"

	"github.com/lecorbeaured/corisapp/storage"
)

var validPayFrequencies = map[string]bool{
	"weekly":      true,
	"biweekly":    true,
	"semimonthly": true,
	"monthly":     true,
}

// ActiveSchedule returns the user's active pay schedule.
func (a *API) ActiveSchedule(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	sched, err := a.repo.ActiveSchedule(r.Context(), p.UserID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// SetSchedule replaces the active pay schedule and rebuilds the planning
// state: windows are regenerated over the horizon and unassigned
// occurrences are placed into them.
func (a *API) SetSchedule(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[SetScheduleRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	if !validPayFrequencies[req.Frequency] {
		writeError(w, http.StatusBadRequest, "invalid frequency")
		return
	}
	if _, err := time.Parse("2006-01-02", req.NextPaycheckDate); err != nil {
		writeError(w, http.StatusBadRequest, "next_paycheck_date must be YYYY-MM-DD")
		return
	}
	if req.TypicalNetPay != nil && *req.TypicalNetPay < 0 {
		writeError(w, http.StatusBadRequest, "typical_net_pay must not be negative")
		return
	}

	sched, err := a.repo.SetSchedule(r.Context(), &storage.PaySchedule{
		UserID:           p.UserID,
		Frequency:        req.Frequency,
		NextPaycheckDate: req.NextPaycheckDate,
		TypicalNetPay:    req.TypicalNetPay,
		IsActive:         true,
	})
	if err != nil {
		writeInternalError(w, "set schedule", err)
		return
	}

	if err := a.repo.GenerateWindows(r.Context(), sched.ID, occurrenceHorizon); err != nil {
		writeInternalError(w, "generate windows", err)
		return
	}
	if err := a.repo.AssignToActiveWindows(r.Context(), p.UserID); err != nil {
		writeInternalError(w, "assign occurrences", err)
		return
	}

	a.audit.logEvent(AuditScheduleSet, r, p.UserID)
	writeJSON(w, http.StatusOK, sched)
}

// RegenerateSchedule rebuilds windows and assignments for the current
// active schedule. Useful after bulk template edits; both steps are
// idempotent.
func (a *API) RegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	sched, err := a.repo.ActiveSchedule(r.Context(), p.UserID)
	if err != nil {
		mapError(w, err)
		return
	}

	if err := a.repo.GenerateWindows(r.Context(), sched.ID, occurrenceHorizon); err != nil {
		writeInternalError(w, "generate windows", err)
		return
	}
	if err := a.repo.GenerateOccurrences(r.Context(), p.UserID, occurrenceHorizon); err != nil {
		writeInternalError(w, "generate occurrences", err)
		return
	}
	if err := a.repo.AssignToActiveWindows(r.Context(), p.UserID); err != nil {
		writeInternalError(w, "assign occurrences", err)
		return
	}

	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
