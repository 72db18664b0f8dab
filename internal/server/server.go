// Package server exposes batch merging over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/pdfmerge/internal/session"
)

// Config holds configuration for the HTTP server.
type Config struct {
	// RateLimitRequests is the number of requests allowed per window (default: 60)
	RateLimitRequests int
	// RateLimitWindow is the time window for rate limiting (default: 1 minute)
	RateLimitWindow time.Duration
	// MaxUploadBytes caps the multipart body of one merge request (default: 256 MiB)
	MaxUploadBytes int64
}

// Server is the HTTP front end of the merge pipeline.
type Server struct {
	ingester session.Ingester
	merger   session.Merger
	logger   *slog.Logger
	config   Config
	router   *chi.Mux
}

// New creates a server that runs each request in its own session.
func New(ingester session.Ingester, merger session.Merger, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = 60
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 256 << 20
	}

	s := &Server{
		ingester: ingester,
		merger:   merger,
		logger:   logger,
		config:   cfg,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

	r.Post("/v1/merge", s.handleMerge)
	r.Get("/v1/health", s.handleHealth)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartWithShutdown serves on addr until ctx is cancelled.
func (s *Server) StartWithShutdown(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting merge server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down merge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}
