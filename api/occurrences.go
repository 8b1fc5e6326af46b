package api

import (
	"net/http"
	"time"
)

// ListOccurrences returns the user's occurrences with derived status,
// nearest due date first.
func (a *API) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	occs, err := a.repo.ListOccurrences(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "list occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, OccurrencesResponse{Occurrences: occs})
}

// UpdateOccurrenceAmount changes the amount of one occurrence. Only
// variable, unpaid occurrences with a future or today due date qualify;
// everything else reads as not found.
func (a *API) UpdateOccurrenceAmount(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[UpdateAmountRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	occ, err := a.repo.UpdateOccurrenceAmount(r.Context(), p.UserID, id, req.Amount)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

// MarkOccurrencePaid records a payment. Paid date defaults to today and
// amount paid to the occurrence amount. Unsent reminders for the occurrence
// are canceled as part of the same operation.
func (a *API) MarkOccurrencePaid(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[MarkPaidRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	var paidDate *time.Time
	if req.PaidDate != nil {
		t, err := time.Parse("2006-01-02", *req.PaidDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "paid_date must be YYYY-MM-DD")
			return
		}
		paidDate = &t
	}
	if req.AmountPaid != nil && *req.AmountPaid < 0 {
		writeError(w, http.StatusBadRequest, "amount_paid must not be negative")
		return
	}

	occ, err := a.repo.MarkOccurrencePaid(r.Context(), p.UserID, id, paidDate, req.AmountPaid)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditOccurrenceMarkedPaid, r, p.UserID)
	writeJSON(w, http.StatusOK, occ)
}
