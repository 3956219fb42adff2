package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/roadside-dispatch/internal/auth"
	"github.com/example/roadside-dispatch/internal/lifecycle"
	"github.com/example/roadside-dispatch/internal/logging"
	"github.com/example/roadside-dispatch/internal/matcher"
	"github.com/example/roadside-dispatch/internal/ratelimit"
	"github.com/example/roadside-dispatch/internal/roster"
)

// Deps are the collaborators the HTTP layer calls into. Limiter, Sessions,
// Dashboard and Ready are optional.
type Deps struct {
	Lifecycle *lifecycle.Service
	Drivers   roster.Directory
	Ranker    *matcher.Service
	Sessions  *auth.Sessions
	Limiter   ratelimit.Limiter
	Dashboard http.Handler
	Logger    *slog.Logger

	// CallerID is presented to drivers when the IVR bridges a call.
	CallerID string
	// PublicBaseURL prefixes webhook callback URLs handed to the telephony
	// provider; empty means relative URLs.
	PublicBaseURL string
	// TrustProxy reads the client address from X-Forwarded-For/X-Real-IP.
	// Only set it when a reverse proxy in front rewrites those headers.
	TrustProxy bool
	Ready      func(ctx context.Context) error
}

type Server struct {
	Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(d Deps) *Server {
	s := &Server{Deps: d, logger: logging.Component(d.Logger, "http"), mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	if s.Dashboard != nil {
		s.mux.Handle("/ws/admin", s.requireAdmin(s.Dashboard))
	}

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/admin/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/assignments", s.handleCreateAssignment).Methods(http.MethodPost)
	api.Handle("/assignments", s.requireAdmin(http.HandlerFunc(s.handleListAssignments))).Methods(http.MethodGet)
	api.Handle("/assignments/{id}", s.requireAdmin(http.HandlerFunc(s.handleGetAssignment))).Methods(http.MethodGet)
	api.Handle("/assignments/{id}", s.requireAdmin(http.HandlerFunc(s.handleUpdateAssignment))).Methods(http.MethodPut)
	api.Handle("/assignments/{id}", s.requireAdmin(http.HandlerFunc(s.handleDeleteAssignment))).Methods(http.MethodDelete)
	api.HandleFunc("/drivers", s.handleListDrivers).Methods(http.MethodGet)
	api.Handle("/drivers", s.requireAdmin(http.HandlerFunc(s.handleUpsertDriver))).Methods(http.MethodPost)
	api.Handle("/drivers/{id}/online", s.requireAdmin(http.HandlerFunc(s.handleSetOnline))).Methods(http.MethodPut)

	hooks := s.mux.PathPrefix("/webhooks").Subrouter()
	hooks.HandleFunc("/voice", s.handleVoice).Methods(http.MethodPost)
	hooks.HandleFunc("/voice/after-dial", s.handleAfterDial).Methods(http.MethodPost)
	hooks.HandleFunc("/call-status", s.handleCallStatus).Methods(http.MethodPost)
	hooks.HandleFunc("/messages", s.handleMessage).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
