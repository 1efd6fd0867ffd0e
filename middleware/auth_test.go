package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func loginCookie(t *testing.T, a *Auth, password string) (*httptest.ResponseRecorder, []*http.Cookie) {
	t.Helper()
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	a.Login(rec, req)
	return rec, rec.Result().Cookies()
}

func TestOpenWhenNothingConfigured(t *testing.T) {
	a := NewAuth("", "", "secret", zerolog.Nop())

	rec := httptest.NewRecorder()
	a.APIKeyAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/styles", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	a.WebAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	a := NewAuth("", "k-123", "secret", zerolog.Nop())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic k-123", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer k-123", http.StatusNoContent},
		{"case-insensitive scheme", "bearer k-123", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/transform", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			a.APIKeyAuth(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestWebAuthRedirectsWithoutSession(t *testing.T) {
	a := NewAuth("pw", "", "secret", zerolog.Nop())

	rec := httptest.NewRecorder()
	a.WebAuth(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLoginSessionUnlocksPageAndAPI(t *testing.T) {
	a := NewAuth("pw", "", "0123456789abcdef0123456789abcdef", zerolog.Nop())

	rec, cookies := loginCookie(t, a, "pw")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.NotEmpty(t, cookies)

	for _, h := range []http.Handler{a.WebAuth(ok), a.APIKeyAuth(ok)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	a := NewAuth("pw", "", "secret", zerolog.Nop())

	rec, cookies := loginCookie(t, a, "guess")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?error=1", rec.Header().Get("Location"))
	assert.Empty(t, cookies)
}

func TestLogoutExpiresSession(t *testing.T) {
	a := NewAuth("pw", "", "secret", zerolog.Nop())
	_, cookies := loginCookie(t, a, "pw")

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.Logout(rec, req)

	assert.Equal(t, "/login", rec.Header().Get("Location"))
	out := rec.Result().Cookies()
	require.NotEmpty(t, out)
	assert.True(t, out[0].MaxAge < 0)
}
