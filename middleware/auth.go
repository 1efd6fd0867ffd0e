package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

const (
	// SessionName is the key for the cookie session.
	SessionName = "photoart-session"
	// UserSessionKey is the key used to store the authenticated status in the session.
	UserSessionKey = "authenticated"
)

// Auth guards the page with a shared web password and the API with either
// that session or a bearer key. With neither configured everything is open.
type Auth struct {
	webPassword string
	apiKey      string
	store       *sessions.CookieStore
	log         zerolog.Logger
}

func NewAuth(webPassword, apiKey, sessionSecret string, log zerolog.Logger) *Auth {
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   false, // Set to true if using HTTPS
		SameSite: http.SameSiteLaxMode,
	}
	return &Auth{webPassword: webPassword, apiKey: apiKey, store: store, log: log}
}

// PasswordRequired reports whether the web page is behind a login.
func (a *Auth) PasswordRequired() bool {
	return a.webPassword != ""
}

// WebAuth protects web routes that require authentication.
func (a *Auth) WebAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.PasswordRequired() || a.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

// APIKeyAuth protects API routes. A logged-in browser session or a matching
// bearer key is accepted.
func (a *Auth) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" && a.webPassword == "" {
			next.ServeHTTP(w, r)
			return
		}
		if a.webPassword != "" && a.authenticated(r) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header is required")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized(w, "Invalid Authorization header format. Expected 'Bearer <api_key>'")
			return
		}
		if a.apiKey == "" || !equal(strings.TrimSpace(parts[1]), a.apiKey) {
			unauthorized(w, "Invalid API Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login checks the submitted password and starts a session.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	if !a.PasswordRequired() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=1", http.StatusFound)
		return
	}
	if !equal(r.PostFormValue("password"), a.webPassword) {
		a.log.Warn().Str("remote", r.RemoteAddr).Msg("failed login attempt")
		http.Redirect(w, r, "/login?error=1", http.StatusFound)
		return
	}

	// A stale cookie from an older secret fails to decode; a fresh session is
	// still returned and simply overwrites it.
	session, _ := a.store.Get(r, SessionName)
	session.Values[UserSessionKey] = true
	if err := session.Save(r, w); err != nil {
		a.log.Error().Err(err).Msg("failed to save session")
		http.Error(w, "Could not save session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := a.store.Get(r, SessionName)
	session.Values[UserSessionKey] = false
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		a.log.Error().Err(err).Msg("failed to clear session")
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *Auth) authenticated(r *http.Request) bool {
	session, err := a.store.Get(r, SessionName)
	if err != nil {
		a.log.Debug().Err(err).Msg("session decode failed, forcing login")
		return false
	}
	auth, ok := session.Values[UserSessionKey].(bool)
	return ok && auth
}

func equal(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
