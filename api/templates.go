package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lecorbeaured/corisapp/storage"
)

const (
	maxBodySize         = 1 << 20 // 1 MiB
	occurrenceHorizon   = 180
	reminderHorizonDays = 120
)

var validFrequencies = map[string]bool{
	"monthly":   true,
	"biweekly":  true,
	"weekly":    true,
	"quarterly": true,
	"annual":    true,
}

// pathID extracts and validates a UUID path parameter. Invalid IDs are
// rejected here so malformed input never reaches a query.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id.String(), true
}

// ListTemplates returns all of the user's bill templates, active and not.
func (a *API) ListTemplates(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	templates, err := a.repo.ListTemplates(r.Context(), p.UserID)
	if err != nil {
		writeInternalError(w, "list templates", err)
		return
	}
	writeJSON(w, http.StatusOK, TemplatesResponse{Templates: templates})
}

// CreateTemplate inserts a new bill template and immediately materialises
// its occurrences over the planning horizon. Generation failures do not
// fail the request: the template exists, and generation is idempotent on
// the next trigger.
func (a *API) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[CreateTemplateRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	name := strings.TrimSpace(req.BillName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "bill_name is required")
		return
	}
	if !validFrequencies[req.Frequency] {
		writeError(w, http.StatusBadRequest, "invalid frequency")
		return
	}
	if req.DueDay != nil && (*req.DueDay < 1 || *req.DueDay > 31) {
		writeError(w, http.StatusBadRequest, "due_day must be between 1 and 31")
		return
	}
	if req.DefaultAmount < 0 {
		writeError(w, http.StatusBadRequest, "default_amount must not be negative")
		return
	}

	tmpl, err := a.repo.CreateTemplate(r.Context(), &storage.BillTemplate{
		UserID:        p.UserID,
		BillName:      name,
		Category:      strings.TrimSpace(req.Category),
		Frequency:     req.Frequency,
		DueDay:        req.DueDay,
		DefaultAmount: req.DefaultAmount,
		IsVariable:    req.IsVariable,
		Notes:         req.Notes,
		IsActive:      true,
	})
	if err != nil {
		writeInternalError(w, "create template", err)
		return
	}

	if err := a.repo.GenerateOccurrences(r.Context(), p.UserID, occurrenceHorizon); err != nil {
		a.audit.logFailure(AuditTemplateCreated, r, "generate occurrences: "+err.Error())
	} else if err := a.repo.AssignToActiveWindows(r.Context(), p.UserID); err != nil {
		a.audit.logFailure(AuditTemplateCreated, r, "assign windows: "+err.Error())
	}

	a.audit.logEvent(AuditTemplateCreated, r, p.UserID)
	writeJSON(w, http.StatusCreated, tmpl)
}

// UpdateTemplate applies a partial update. Absent fields keep their value.
func (a *API) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[UpdateTemplateRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	if req.Frequency != nil && !validFrequencies[*req.Frequency] {
		writeError(w, http.StatusBadRequest, "invalid frequency")
		return
	}
	if req.DueDay != nil && (*req.DueDay < 1 || *req.DueDay > 31) {
		writeError(w, http.StatusBadRequest, "due_day must be between 1 and 31")
		return
	}
	if req.DefaultAmount != nil && *req.DefaultAmount < 0 {
		writeError(w, http.StatusBadRequest, "default_amount must not be negative")
		return
	}

	tmpl, err := a.repo.UpdateTemplate(r.Context(), p.UserID, id, storage.TemplateUpdate{
		BillName:      req.BillName,
		Category:      req.Category,
		Frequency:     req.Frequency,
		DueDay:        req.DueDay,
		DefaultAmount: req.DefaultAmount,
		IsVariable:    req.IsVariable,
		Notes:         req.Notes,
	})
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

// DeactivateTemplate stops future occurrence generation for the template.
// Existing occurrences are untouched.
func (a *API) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	p, ok := mustPrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	tmpl, err := a.repo.DeactivateTemplate(r.Context(), p.UserID, id)
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditTemplateDeactivated, r, p.UserID)
	writeJSON(w, http.StatusOK, tmpl)
}
