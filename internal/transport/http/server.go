// Package http exposes the local read-only API: license status and feature
// entitlements for processes on the box, plus health and metrics endpoints.
// The API never mutates license state; all writes stay with the validator.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boxlic/internal/config"
	"boxlic/internal/middleware"
)

// Server is the local API server.
type Server struct {
	cfg      config.ServerConfig
	handler  *LicenseHandler
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates the local API server.
func NewServer(cfg config.ServerConfig, reader StateReader, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		handler:  NewLicenseHandler(reader, logger),
		gatherer: gatherer,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router assembles the middleware chain and routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.StructuredLogger(s.logger))
	if s.cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger)
		r.Use(rl.Handler)
	}
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Route("/api/license", func(r chi.Router) {
		r.Get("/status", s.handler.GetStatus)
		r.Get("/features", s.handler.GetFeatures)
	})
	r.Get("/healthz", s.handler.Healthz)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("local API listening", slog.String("addr", s.httpSrv.Addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down local API: %w", err)
	}
	return nil
}
