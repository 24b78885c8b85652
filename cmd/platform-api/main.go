// Command platform-api runs the platform backend: the REST API, the flag
// cache syncer, the history retention worker, and the observability servers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exyconn/platform/internal/api"
	"github.com/exyconn/platform/internal/cache"
	"github.com/exyconn/platform/internal/config"
	"github.com/exyconn/platform/internal/database"
	"github.com/exyconn/platform/internal/events"
	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/health"
	"github.com/exyconn/platform/internal/jobrunner"
	"github.com/exyconn/platform/internal/logger"
	"github.com/exyconn/platform/internal/observability"
	"github.com/exyconn/platform/internal/store"
	"github.com/exyconn/platform/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, cfg.Database.ConnString())
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("connected to postgres", slog.String("host", cfg.Database.Host))

	redisClient, err := cache.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()
	log.Info("connected to redis", slog.String("addr", cfg.Redis.Address()))

	// --- Wiring ---

	flags := store.NewPostgresFlagStore(pool)
	jobs := store.NewPostgresJobStore(pool)
	history := store.NewPostgresHistoryStore(pool)
	variables := store.NewPostgresVariableStore(pool)

	snapshots := cache.NewRedisSnapshots(redisClient)
	broker := events.NewMemoryBroker()
	runner := jobrunner.NewRunner(jobs, history, broker, nil, log)

	apiSrv := api.New(api.Options{
		Flags:           flags,
		Jobs:            jobs,
		History:         history,
		Variables:       variables,
		Snapshots:       snapshots,
		Evaluator:       flagengine.New(log),
		Runner:          runner,
		Broker:          broker,
		APIKeyHash:      cfg.Server.APIKeyHash,
		SkipAuth:        cfg.Server.SkipAuth,
		DefaultPageSize: cfg.Server.DefaultPageSize,
		MaxPageSize:     cfg.Server.MaxPageSize,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           apiSrv.Router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      0, // SSE connections stay open indefinitely
		ReadHeaderTimeout: 2 * time.Second,
	}

	// --- Background services ---

	var healthSrv *health.Service
	if cfg.Health.Enabled {
		healthSrv = health.NewService(log, cfg,
			health.NewPostgresChecker(pool),
			health.NewRedisChecker(redisClient),
		)
		healthSrv.Start()
	}

	var metricsSrv *observability.Server
	if cfg.Metrics.Enabled {
		metricsSrv = observability.NewServer(log, cfg.Metrics.Port)
		metricsSrv.Start()
	}

	syncSvc := syncer.New(log, syncer.Config{
		Interval:      cfg.Syncer.Interval,
		PurgeInterval: cfg.Syncer.PurgeInterval,
	}, flags, history, snapshots)

	syncerDone := make(chan struct{})
	go func() {
		defer close(syncerDone)
		if err := syncSvc.Run(ctx); err != nil {
			log.Error("syncer stopped with error", slog.String("error", err.Error()))
		}
	}()

	// --- Serve ---

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting api server", slog.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	// --- Graceful shutdown ---

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("api server shutdown failed", slog.String("error", err.Error()))
	}

	if healthSrv != nil {
		if err := healthSrv.Stop(shutdownCtx); err != nil {
			log.Error("health server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}

	select {
	case <-syncerDone:
	case <-shutdownCtx.Done():
		log.Warn("syncer did not stop within the shutdown deadline")
	}

	log.Info("shutdown complete")
	return nil
}
