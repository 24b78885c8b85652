// Package observability defines the Prometheus metrics collectors and the
// dedicated server that exposes them, isolated from application traffic.
package observability

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics on its own port so scrapes never compete with API
// traffic.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates the metrics server.
func NewServer(logger *slog.Logger, port string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}
}

// Start runs the metrics server in a background goroutine. Non-blocking.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting metrics server", slog.String("addr", s.server.Addr))

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("failed to start metrics server", slog.String("error", err.Error()))
		}
	}()
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping metrics server")
	return s.server.Shutdown(ctx)
}
