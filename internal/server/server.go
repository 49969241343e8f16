// Package server implements the qsync scheduler gateway: a JSON API that
// exposes one backend.Connection to remote qsync clients.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/internal/config"
)

// maxSyncTimeout caps how long a single sync request may hold a connection.
const maxSyncTimeout = 10 * time.Minute

// Server is the qsync gateway.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	conn      backend.Connection
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, conn backend.Connection, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		conn:      conn,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Delete("/", s.handleTerminateAll)
			r.Post("/sync", s.handleSynchronize)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleJobStatus)
				r.Get("/termination", s.handleJobTermination)
			})
		})
	})
}
