package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/namelens/domaincheck/internal/errors"
	"github.com/namelens/domaincheck/internal/observability"
	"github.com/namelens/domaincheck/internal/server/handlers"
	servermw "github.com/namelens/domaincheck/internal/server/middleware"
)

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	host     string
	port     int
	api      *handlers.API
	health   *handlers.HealthManager
	info     handlers.ServiceInfo
	timeouts Timeouts
}

// Timeouts bounds HTTP connection phases.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAPI mounts the /v1 check endpoints.
func WithAPI(api *handlers.API) Option {
	return func(s *Server) {
		s.api = api
	}
}

// WithHealth serves the /health endpoints from hm. Without it they only report
// that the process is up.
func WithHealth(hm *handlers.HealthManager) Option {
	return func(s *Server) {
		s.health = hm
	}
}

// WithServiceInfo sets what GET /version reports.
func WithServiceInfo(info handlers.ServiceInfo) Option {
	return func(s *Server) {
		s.info = info
	}
}

// WithTimeouts overrides the default connection timeouts. Zero values keep
// the defaults.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		if t.Read > 0 {
			s.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			s.timeouts.Write = t.Write
		}
		if t.Idle > 0 {
			s.timeouts.Idle = t.Idle
		}
	}
}

// New creates a new HTTP server instance
func New(host string, port int, opts ...Option) *Server {
	r := chi.NewRouter()

	// Standard chi middleware
	r.Use(middleware.RealIP)

	// Request ID first so metrics, logs and check results share it; Recovery
	// sits inside metrics so panics are counted as 500s.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		timeouts: Timeouts{
			Read:  30 * time.Second,
			Write: 60 * time.Second,
			Idle:  120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = handlers.NewHealthManager("")
		s.health.MarkStarted()
	}

	// Register routes
	s.registerRoutes()

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}
