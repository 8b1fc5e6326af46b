package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecorbeaured/corisapp/api"
	"github.com/lecorbeaured/corisapp/auth"
	"github.com/lecorbeaured/corisapp/storage"
	"github.com/lecorbeaured/corisapp/storage/memory"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// captureMailer records outbound mail for assertions.
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func setupServer(t *testing.T) (*httptest.Server, *memory.Repository, *captureMailer) {
	t.Helper()
	repo := memory.NewRepository()
	mail := &captureMailer{}

	codec := auth.NewTokenCodec([]byte("integration-test-secret"))
	policy := auth.CookiePolicy{}
	sessions := auth.NewSessionManager(codec, repo, policy)
	csrf := auth.NewCSRFGuard(policy, true)

	a := api.New(repo, sessions, csrf,
		api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		api.WithMailer(mail),
		api.WithPublicURL("http://localhost:5173"),
	)

	r := chi.NewRouter()
	r.Mount("/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo, mail
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// doJSON issues a request through the client's cookie jar. A non-empty csrf
// is sent as the X-CSRF-Token header.
func doJSON(t *testing.T, client *http.Client, method, url string, body any, csrf string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequest(method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if csrf != "" {
		req.Header.Set(auth.CSRFHeaderName, csrf)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// signup registers a user and returns the CSRF token from the response
// body. The session and CSRF cookies land in the client's jar.
func signup(t *testing.T, client *http.Client, baseURL, email, password string) (userID, csrf string) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/v1/auth/signup", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[api.AuthResponse](t, resp)
	require.NotEmpty(t, body.User.ID)
	require.NotEmpty(t, body.CSRF)
	return body.User.ID, body.CSRF
}

func TestSignupAndMe(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	userID, _ := signup(t, client, srv.URL, "alice@example.com", "correct horse")

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeBody[api.MeResponse](t, resp)
	assert.Equal(t, userID, me.User.ID)
}

func TestSignupValidation(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"bad email", map[string]string{"email": "not-an-email", "password": "long enough"}},
		{"empty email", map[string]string{"email": "", "password": "long enough"}},
		{"short password", map[string]string{"email": "a@b.com", "password": "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/signup", tt.body, "")
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	signup(t, client, srv.URL, "dup@example.com", "password-one")

	resp := doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/signup", map[string]string{
		"email":    "DUP@example.com", // normalization catches the case variant too
		"password": "password-two",
	}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginWrongPasswordAndUnknownEmailIndistinguishable(t *testing.T) {
	srv, _, _ := setupServer(t)
	signup(t, newClient(t), srv.URL, "bob@example.com", "real password")

	read := func(body map[string]string) (int, string) {
		resp := doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/login", body, "")
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(raw)
	}

	wrongStatus, wrongBody := read(map[string]string{"email": "bob@example.com", "password": "wrong password"})
	unknownStatus, unknownBody := read(map[string]string{"email": "nobody@example.com", "password": "whatever pw"})

	assert.Equal(t, http.StatusUnauthorized, wrongStatus)
	assert.Equal(t, wrongStatus, unknownStatus)
	assert.Equal(t, wrongBody, unknownBody)
}

func TestProtectedRouteWithoutSession(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/templates/me", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCSRFCheckRunsBeforeAuth(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	carolID, _ := signup(t, client, srv.URL, "carol@example.com", "carol password")

	// Valid session, no CSRF header: the gate rejects with 403, not 401,
	// and no state was touched.
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"bill_name":      "Rent",
		"frequency":      "monthly",
		"default_amount": 1200.0,
	}, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "CSRF token missing or invalid", body.Error)

	templates, err := repo.ListTemplates(context.Background(), carolID)
	require.NoError(t, err)
	assert.Empty(t, templates)

	// No session at all: still the CSRF failure, proving order.
	resp = doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"bill_name": "Rent",
	}, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestTemplateLifecycle(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)
	_, csrf := signup(t, client, srv.URL, "dave@example.com", "dave password")

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"bill_name":      "Electric",
		"category":       "utilities",
		"frequency":      "monthly",
		"due_day":        15,
		"default_amount": 90.0,
		"is_variable":    true,
		"notes":          "",
	}, csrf)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[storage.BillTemplate](t, resp)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/templates/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.TemplatesResponse](t, resp)
	require.Len(t, list.Templates, 1)
	assert.Equal(t, "Electric", list.Templates[0].BillName)

	resp = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/templates/"+created.ID, map[string]any{
		"default_amount": 95.5,
	}, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[storage.BillTemplate](t, resp)
	assert.Equal(t, 95.5, updated.DefaultAmount)
	assert.Equal(t, "Electric", updated.BillName)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/v1/templates/"+created.ID+"/deactivate", nil, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deactivated := decodeBody[storage.BillTemplate](t, resp)
	assert.False(t, deactivated.IsActive)
}

func TestTemplateInvalidID(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)
	_, csrf := signup(t, client, srv.URL, "erin@example.com", "erin password")

	resp := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/templates/not-a-uuid", map[string]any{
		"notes": "x",
	}, csrf)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTemplateOwnershipIsolation(t *testing.T) {
	srv, _, _ := setupServer(t)

	owner := newClient(t)
	_, ownerCSRF := signup(t, owner, srv.URL, "owner@example.com", "owner password")

	resp := doJSON(t, owner, http.MethodPost, srv.URL+"/v1/templates", map[string]any{
		"bill_name":      "Water",
		"frequency":      "monthly",
		"default_amount": 40.0,
	}, ownerCSRF)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[storage.BillTemplate](t, resp)

	intruder := newClient(t)
	_, intruderCSRF := signup(t, intruder, srv.URL, "intruder@example.com", "intruder password")

	resp = doJSON(t, intruder, http.MethodPatch, srv.URL+"/v1/templates/"+created.ID, map[string]any{
		"notes": "mine now",
	}, intruderCSRF)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOccurrenceAmountRules(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, csrf := signup(t, client, srv.URL, "frank@example.com", "frank password")

	variable := repo.SeedOccurrence(storage.BillOccurrence{
		UserID:  userID,
		DueDate: "2099-01-15",
		Amount:  50,
	})

	resp := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/occurrences/"+variable+"/amount", map[string]any{
		"amount": 62.5,
	}, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	occ := decodeBody[storage.BillOccurrence](t, resp)
	assert.Equal(t, 62.5, occ.Amount)

	resp = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/occurrences/"+variable+"/amount", map[string]any{
		"amount": -1.0,
	}, csrf)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkOccurrencePaid(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, csrf := signup(t, client, srv.URL, "grace@example.com", "grace password")

	occID := repo.SeedOccurrence(storage.BillOccurrence{
		UserID:  userID,
		DueDate: "2099-02-01",
		Amount:  75,
	})

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/occurrences/"+occID+"/paid", map[string]any{}, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	occ := decodeBody[storage.BillOccurrence](t, resp)
	require.NotNil(t, occ.PaidDate)
	require.NotNil(t, occ.AmountPaid)
	assert.Equal(t, 75.0, *occ.AmountPaid)
}

func TestScheduleSetAndPlanning(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, csrf := signup(t, client, srv.URL, "heidi@example.com", "heidi password")

	// Before a schedule exists the planning view flags the gap.
	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/planning/windows", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	windows := decodeBody[api.WindowsResponse](t, resp)
	assert.True(t, windows.PlanningIncomplete)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/v1/schedule/set", map[string]any{
		"frequency":          "biweekly",
		"next_paycheck_date": "2099-03-01",
	}, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sched := decodeBody[storage.PaySchedule](t, resp)
	assert.True(t, sched.IsActive)
	assert.Positive(t, repo.GenerateWindowsCalls)
	assert.Positive(t, repo.AssignCalls)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/schedule/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	active := decodeBody[storage.PaySchedule](t, resp)
	assert.Equal(t, sched.ID, active.ID)

	repo.SeedWindowTotals([]storage.WindowTotals{{
		WindowID:  "11111111-1111-1111-1111-111111111111",
		UserID:    userID,
		StartDate: "2099-03-01",
		EndDate:   "2099-03-14",
		TotalDue:  200,
	}})

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/planning/windows", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	windows = decodeBody[api.WindowsResponse](t, resp)
	assert.False(t, windows.PlanningIncomplete)
	require.Len(t, windows.Windows, 1)
	assert.Equal(t, 200.0, windows.Windows[0].TotalDue)
}

func TestPlanningIntegrity(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, _ := signup(t, client, srv.URL, "ivan@example.com", "ivan password")

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/planning/integrity", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	integrity := decodeBody[api.IntegrityResponse](t, resp)
	assert.True(t, integrity.OK)

	// An occurrence with no window is a planning gap.
	repo.SeedOccurrence(storage.BillOccurrence{
		UserID:  userID,
		DueDate: "2099-04-01",
		Amount:  10,
	})

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/planning/integrity", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	integrity = decodeBody[api.IntegrityResponse](t, resp)
	assert.False(t, integrity.OK)
	assert.Len(t, integrity.Unassigned, 1)
}

func TestPasswordResetFlow(t *testing.T) {
	srv, _, mail := setupServer(t)
	client := newClient(t)
	signup(t, client, srv.URL, "judy@example.com", "original password")

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/password-reset/request", map[string]string{
		"email": "judy@example.com",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	msg := mail.last(t)
	assert.Equal(t, "judy@example.com", msg.To)
	token := extractResetToken(t, msg.Body)

	// The session issued at signup still works before confirmation.
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/password-reset/confirm", map[string]string{
		"token":        token,
		"new_password": "brand new password",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Confirmation bumped the auth version: a session issued before the
	// reset is dead, even one presented from a stale jar.
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// The token is single use.
	resp = doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/password-reset/confirm", map[string]string{
		"token":        token,
		"new_password": "yet another password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Old password no longer works; new one does.
	resp = doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/login", map[string]string{
		"email":    "judy@example.com",
		"password": "original password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/login", map[string]string{
		"email":    "judy@example.com",
		"password": "brand new password",
	}, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func extractResetToken(t *testing.T, body string) string {
	t.Helper()
	i := strings.Index(body, "token=")
	require.GreaterOrEqual(t, i, 0, "reset email must contain a token link")
	rest := body[i+len("token="):]
	if j := strings.IndexAny(rest, "\r\n \t"); j >= 0 {
		rest = rest[:j]
	}
	require.NotEmpty(t, rest)
	return rest
}

func TestPasswordResetUnknownEmailIndistinguishable(t *testing.T) {
	srv, _, mail := setupServer(t)
	signup(t, newClient(t), srv.URL, "karl@example.com", "karl password")

	read := func(email string) (int, string) {
		resp := doJSON(t, newClient(t), http.MethodPost, srv.URL+"/v1/auth/password-reset/request", map[string]string{
			"email": email,
		}, "")
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(raw)
	}

	knownStatus, knownBody := read("karl@example.com")
	unknownStatus, unknownBody := read("stranger@example.com")

	assert.Equal(t, http.StatusOK, knownStatus)
	assert.Equal(t, knownStatus, unknownStatus)
	assert.Equal(t, knownBody, unknownBody)

	// Exactly one email went out, for the real account.
	assert.Len(t, mail.sent, 1)
}

func TestPasswordResetConfirmBadTokens(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	tests := []struct {
		name  string
		token string
	}{
		{"too short", "abc"},
		{"well formed but unknown", strings.Repeat("ab", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/password-reset/confirm", map[string]string{
				"token":        tt.token,
				"new_password": "whatever password",
			}, "")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody[api.ErrorResponse](t, resp)
			assert.Equal(t, "Invalid or expired token", body.Error)
		})
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)
	signup(t, client, srv.URL, "lena@example.com", "lena password")

	for i := 0; i < 2; i++ {
		resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/logout", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIssueCSRFEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/csrf", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[api.CSRFResponse](t, resp)
	assert.Len(t, body.CSRF, 64)
}

func TestReminderEndpoints(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, csrf := signup(t, client, srv.URL, "mallory@example.com", "mallory password")

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/v1/reminders/generate", nil, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Positive(t, repo.GenerateRemindersCalls)

	occID := repo.SeedOccurrence(storage.BillOccurrence{
		UserID:  userID,
		DueDate: "2099-05-01",
		Amount:  30,
	})
	repo.SeedReminder(storage.ReminderEvent{
		UserID:          userID,
		OccurrenceID:    occID,
		ReminderType:    "upcoming",
		ScheduledSendAt: mustTime(t, "2099-05-01T09:00:00Z"),
	})

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/reminders/upcoming", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	upcoming := decodeBody[api.RemindersResponse](t, resp)
	require.Len(t, upcoming.Reminders, 1)
	assert.Equal(t, occID, upcoming.Reminders[0].OccurrenceID)
}

func TestSessionRevokedAfterVersionBump(t *testing.T) {
	srv, repo, _ := setupServer(t)
	client := newClient(t)
	userID, _ := signup(t, client, srv.URL, "nina@example.com", "nina password")

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	repo.BumpAuthVersion(userID)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/v1/auth/me", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}
