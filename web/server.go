// Package web serves the single-page UI and the JSON API behind it.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"photoart/acquire"
	"photoart/gateway"
	"photoart/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

//go:embed static
var staticFiles embed.FS

const defaultMaxDownloadBytes = 20 << 20

// Options tunes the API surface. Zero values fall back to defaults.
type Options struct {
	// DownloadHosts lists the hosts (and their subdomains) the download
	// proxy may fetch from.
	DownloadHosts    []string
	MaxDownloadBytes int64
	MaxUploadBytes   int64
	// Client is used by the download proxy.
	Client *http.Client
}

type Server struct {
	gateway  *gateway.Gateway
	acquirer *acquire.Acquirer
	auth     *middleware.Auth
	validate *validator.Validate
	opts     Options
	static   fs.FS
	index    *template.Template
	log      zerolog.Logger
}

func NewServer(gw *gateway.Gateway, acq *acquire.Acquirer, auth *middleware.Auth, opts Options, log zerolog.Logger) *Server {
	if opts.MaxDownloadBytes <= 0 {
		opts.MaxDownloadBytes = defaultMaxDownloadBytes
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = acquire.DefaultMaxBytes
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	index := template.Must(template.ParseFS(static, "index.html"))
	return &Server{
		gateway:  gw,
		acquirer: acq,
		auth:     auth,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		static:   static,
		index:    index,
		log:      log,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		hlog.NewHandler(s.log),
		s.accessLog,
		chimw.Recoverer,
	)

	r.Get("/healthz", s.health)

	r.Get("/login", s.loginPage)
	r.Post("/login", s.auth.Login)
	r.Post("/logout", s.auth.Logout)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.WebAuth)
		r.Get("/", s.serveIndex)
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(s.static)))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.APIKeyAuth)
		r.Get("/styles", s.listStyles)
		r.Post("/upload", s.upload)
		r.Post("/transform", s.transform)
		r.Get("/download", s.download)
	})

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ PasswordRequired bool }{s.auth.PasswordRequired()}
	if err := s.index.Execute(w, data); err != nil {
		s.log.Error().Err(err).Msg("render index")
	}
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if !s.auth.PasswordRequired() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	body, err := fs.ReadFile(s.static, "login.html")
	if err != nil {
		s.log.Error().Err(err).Msg("embedded login page missing")
		http.Error(w, "Page not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
