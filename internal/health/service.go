package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/exyconn/platform/internal/config"
)

// Service is the probe server. It owns its own chi router and http.Server so
// an orchestrator can hit it even when the API port is saturated.
type Service struct {
	server *http.Server
	checks []Checker
	cfg    config.HealthConfig
	logger *slog.Logger
}

// NewService wires the probe routes. The checkers passed in define what
// "ready" means for this deployment.
func NewService(logger *slog.Logger, cfg *config.Config, checks ...Checker) *Service {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	svc := &Service{
		checks: checks,
		cfg:    cfg.Health,
		logger: logger,
		server: &http.Server{
			Addr:              ":" + cfg.Health.Port,
			Handler:           r,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
		},
	}

	r.Get(svc.cfg.LivenessPath, svc.liveness)
	r.Get(svc.cfg.ReadinessPath, svc.readiness)

	return svc
}

// Start begins serving probes in the background; it returns immediately.
func (s *Service) Start() {
	go func() {
		s.logger.Info("starting health check server",
			slog.String("port", s.cfg.Port),
			slog.String("liveness_path", s.cfg.LivenessPath),
			slog.String("readiness_path", s.cfg.ReadinessPath),
		)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("failed to start health server", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts the probe server down within the context's deadline.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping health server")
	return s.server.Shutdown(ctx)
}

// liveness answers 200 as long as the process serves HTTP at all. It checks
// nothing else: a live-but-unready process should be left alone, not
// restarted.
func (s *Service) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker concurrently under one shared deadline and
// answers 503 if any of them fails.
func (s *Service) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	statusMap := make(map[string]string)
	hasError := false

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range s.checks {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// Warn, not Error: the orchestrator retries and a flapping
				// dependency should not page anyone on its own.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				statusMap[c.Name()] = fmt.Sprintf("down: %v", err)
				hasError = true
			} else {
				statusMap[c.Name()] = "up"
			}
		}(checker)
	}

	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	if hasError {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	// Per-dependency detail for whoever reads the body; probes only look at
	// the status code.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": statusMap,
	})
}
