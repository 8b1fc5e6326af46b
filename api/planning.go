package api

import (
	"errors"
	"net/http"

	"github.com/lecorbeaured/corisapp/storage"
)

// PlanningWindows returns per-window totals. When the user has no active
// pay schedule the window list is empty and planning_incomplete is set.
func (a *API) PlanningWindows(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}

	incomplete := false
	if _, err := a.repo.ActiveSchedule(r.Context(), p.UserID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			writeInternalError(w, "check schedule", err)
			return
		}
		incomplete = true
	}

	windows, err := a.repo.WindowTotals(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "window totals", err)
		return
	}
	writeJSON(w, http.StatusOK, WindowsResponse{
		Windows:            windows,
		PlanningIncomplete: incomplete,
	})
}

// WindowItems returns the occurrences inside one paycheck window.
func (a *API) WindowItems(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	windowID, ok := pathID(w, r, "windowId")
	if !ok {
		return
	}
	items, err := a.repo.WindowItems(r.Context(), p.UserID, windowID)
	if err != nil {
		writeInternalError(w, "window items", err)
		return
	}
	writeJSON(w, http.StatusOK, WindowItemsResponse{Items: items})
}

// PlanningIntegrity reports occurrences that fell out of the planning
// state: unassigned ones and ones stranded in windows that are no longer
// active.
func (a *API) PlanningIntegrity(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}

	unassigned, err := a.repo.UnassignedOccurrences(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "unassigned occurrences", err)
		return
	}
	stranded, err := a.repo.OccurrencesInInactiveWindows(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "stranded occurrences", err)
		return
	}

	writeJSON(w, http.StatusOK, IntegrityResponse{
		OK:                len(unassigned) == 0 && len(stranded) == 0,
		Unassigned:        unassigned,
		InInactiveWindows: stranded,
	})
}
