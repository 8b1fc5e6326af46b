package api

import "github.com/lecorbeaured/corisapp/storage"

// SignupRequest is the JSON body for POST /auth/signup.
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public shape of a user.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// AuthResponse is returned from signup and login. The CSRF token is also
// set as a readable cookie; the body copy serves clients that store it
// out-of-band.
type AuthResponse struct {
	User UserResponse `json:"user"`
	CSRF string       `json:"csrf"`
}

// MeResponse is returned from GET /auth/me.
type MeResponse struct {
	User UserResponse `json:"user"`
}

// CSRFResponse is returned from GET /auth/csrf.
type CSRFResponse struct {
	CSRF string `json:"csrf"`
}

// OKResponse is the generic success body.
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// PasswordResetRequest is the JSON body for POST /auth/password-reset/request.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest is the JSON body for
// POST /auth/password-reset/confirm.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// CreateTemplateRequest is the JSON body for POST /templates.
type CreateTemplateRequest struct {
	BillName      string  `json:"bill_name"`
	Category      string  `json:"category"`
	Frequency     string  `json:"frequency"`
	DueDay        *int    `json:"due_day,omitempty"`
	DefaultAmount float64 `json:"default_amount"`
	IsVariable    bool    `json:"is_variable"`
	Notes         string  `json:"notes"`
}

// UpdateTemplateRequest is the JSON body for PATCH /templates/{id}. Absent
// fields keep their current value.
type UpdateTemplateRequest struct {
	BillName      *string  `json:"bill_name,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Frequency     *string  `json:"frequency,omitempty"`
	DueDay        *int     `json:"due_day,omitempty"`
	DefaultAmount *float64 `json:"default_amount,omitempty"`
	IsVariable    *bool    `json:"is_variable,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}

// UpdateAmountRequest is the JSON body for PATCH /occurrences/{id}/amount.
type UpdateAmountRequest struct {
	Amount float64 `json:"amount"`
}

// MarkPaidRequest is the JSON body for POST /occurrences/{id}/paid.
type MarkPaidRequest struct {
	PaidDate   *string  `json:"paid_date,omitempty"`
	AmountPaid *float64 `json:"amount_paid,omitempty"`
}

// SetScheduleRequest is the JSON body for POST /schedule/set.
type SetScheduleRequest struct {
	Frequency        string   `json:"frequency"`
	NextPaycheckDate string   `json:"next_paycheck_date"`
	TypicalNetPay    *float64 `json:"typical_net_pay,omitempty"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TemplatesResponse is returned from GET /templates/me.
type TemplatesResponse struct {
	Templates []storage.BillTemplate `json:"templates"`
}

// OccurrencesResponse is returned from GET /occurrences/me.
type OccurrencesResponse struct {
	Occurrences []storage.BillOccurrence `json:"occurrences"`
}

// WindowsResponse is returned from GET /planning/windows. PlanningIncomplete
// is set when the user has no active pay schedule, so the frontend can
// prompt for setup instead of rendering an empty plan.
type WindowsResponse struct {
	Windows            []storage.WindowTotals `json:"windows"`
	PlanningIncomplete bool                   `json:"planning_incomplete"`
}

// WindowItemsResponse is returned from GET /planning/window/{windowId}/items.
type WindowItemsResponse struct {
	Items []storage.WindowItem `json:"items"`
}

// IntegrityResponse is returned from GET /planning/integrity. OK is true
// when both problem lists are empty.
type IntegrityResponse struct {
	OK                bool                     `json:"ok"`
	Unassigned        []storage.BillOccurrence `json:"unassigned"`
	InInactiveWindows []storage.BillOccurrence `json:"in_inactive_windows"`
}

// RemindersResponse is returned from the reminder list endpoints.
type RemindersResponse struct {
	Reminders []storage.ReminderEvent `json:"reminders"`
}
