// Package server provides the admin HTTP API for the retrieval index.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/rebuild"
	"github.com/hyperjump/kioku/internal/search"
)

// Server is the HTTP server for the index API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	scheduler *rebuild.Scheduler
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	scheduler *rebuild.Scheduler,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		indexer:   idx,
		scheduler: scheduler,
		config:    cfg,
		logger:    logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Route("/index", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/readiness", s.handleReadiness)
			r.Post("/rebuild", s.handleRebuildStart)
			r.Get("/rebuild", s.handleRebuildStatus)
			r.Delete("/rebuild", s.handleRebuildCancel)
			r.Post("/documents/{id}", s.handleIndexDocument)
			r.Delete("/documents/{id}", s.handleDeleteDocument)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
