package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lecorbeaured/corisapp/auth"
)

func issueCSRF(t *testing.T, g *auth.CSRFGuard) (token string, cookie *http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	token, err := g.IssueCookie(rec)
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return token, cookies[0]
}

func TestCSRFIssueCookieReadable(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, true)

	token, cookie := issueCSRF(t, g)
	assert.Equal(t, auth.CSRFCookieName, cookie.Name)
	assert.Equal(t, token, cookie.Value)
	// The whole point of double-submit: the browser-side code must be able
	// to read this cookie.
	assert.False(t, cookie.HttpOnly)
	assert.Len(t, token, 64) // 32 bytes hex-encoded
}

func TestCSRFTokensAreUnique(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, true)

	a, _ := issueCSRF(t, g)
	b, _ := issueCSRF(t, g)
	assert.NotEqual(t, a, b)
}

func TestCSRFCheckSafeMethodsPass(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, true)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req := httptest.NewRequest(method, "/v1/templates/me", nil)
		assert.NoError(t, g.Check(req), method)
	}
}

func TestCSRFCheckMatchingPair(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, true)
	token, cookie := issueCSRF(t, g)

	req := httptest.NewRequest(http.MethodPost, "/v1/templates", nil)
	req.AddCookie(cookie)
	req.Header.Set(auth.CSRFHeaderName, token)
	assert.NoError(t, g.Check(req))
}

func TestCSRFCheckRejections(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, true)
	token, cookie := issueCSRF(t, g)

	tests := []struct {
		name   string
		cookie *http.Cookie
		header string
	}{
		{"missing both", nil, ""},
		{"cookie only", cookie, ""},
		{"header only", nil, token},
		{"case mismatch", cookie, "ABC" + token[3:]},
		{"prefix of token", cookie, token[:len(token)-1]},
		{"token plus suffix", cookie, token + "ff"},
		{"different token", cookie, "deadbeef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/v1/occurrences/x/amount", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			if tt.header != "" {
				req.Header.Set(auth.CSRFHeaderName, tt.header)
			}
			assert.ErrorIs(t, g.Check(req), auth.ErrCSRF)
		})
	}
}

func TestCSRFCheckDisabledAlwaysPasses(t *testing.T) {
	g := auth.NewCSRFGuard(auth.CookiePolicy{}, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/templates", nil)
	assert.NoError(t, g.Check(req))
}
