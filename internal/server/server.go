// Package server provides the HTTP surface for askneu: the ask
// endpoint, health, and stats.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/askneu/askneu/internal/engine"
)

// Server timeouts.
const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// StatsSource contributes a named section to the stats endpoint.
type StatsSource interface {
	Stats() map[string]any
}

// Server is the HTTP front for the engine.
type Server struct {
	engine *engine.Engine
	router *chi.Mux
	server *http.Server

	statsSources map[string]StatsSource
	startTime    time.Time
}

// New creates a server around the engine. statsSources adds extra
// sections (retrieval, embedding cache) to /api/stats.
func New(addr string, eng *engine.Engine, statsSources map[string]StatsSource) *Server {
	s := &Server{
		engine:       eng,
		router:       chi.NewRouter(),
		statsSources: statsSources,
		startTime:    time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(RequestID)
	s.router.Use(SecurityHeaders)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Get("/stats", s.handleStats)
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
