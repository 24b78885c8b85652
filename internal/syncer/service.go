// Package syncer implements the background workers that keep derived state
// fresh: the flag snapshot projection from PostgreSQL into Redis, and the
// job history retention purge.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/exyconn/platform/internal/cache"
	"github.com/exyconn/platform/internal/observability"
	"github.com/exyconn/platform/internal/store"
)

// Config holds the configuration for the Syncer service.
type Config struct {
	// Interval is the duration between flag sync cycles (polling).
	Interval time.Duration

	// PurgeInterval is the duration between history retention sweeps.
	PurgeInterval time.Duration
}

// Service orchestrates the synchronization and retention processes.
type Service struct {
	logger  *slog.Logger
	config  Config
	flags   store.FlagRepository
	history store.HistoryRepository
	cache   cache.Snapshots
	now     func() time.Time
}

// New creates a new Syncer service.
func New(logger *slog.Logger, cfg Config, flags store.FlagRepository, history store.HistoryRepository, snapshots cache.Snapshots) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if flags == nil {
		panic("syncer: flag repository cannot be nil")
	}
	if history == nil {
		panic("syncer: history repository cannot be nil")
	}
	if snapshots == nil {
		panic("syncer: snapshot cache cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Second // Safe default
	}
	if cfg.PurgeInterval < time.Minute {
		cfg.PurgeInterval = time.Hour
	}

	return &Service{
		logger:  logger,
		config:  cfg,
		flags:   flags,
		history: history,
		cache:   snapshots,
		now:     time.Now,
	}
}

// Run starts both worker loops. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service",
		slog.String("interval", s.config.Interval.String()),
		slog.String("purge_interval", s.config.PurgeInterval.String()),
	)

	syncTicker := time.NewTicker(s.config.Interval)
	defer syncTicker.Stop()

	purgeTicker := time.NewTicker(s.config.PurgeInterval)
	defer purgeTicker.Stop()

	// Run once immediately on startup so the cache is warm before traffic.
	if err := s.syncFlags(ctx); err != nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-syncTicker.C:
			if err := s.syncFlags(ctx); err != nil {
				// Log and retry on the next tick, never stop the worker.
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		case <-purgeTicker.C:
			s.purgeHistory(ctx)
		}
	}
}

// syncFlags performs a single flag projection cycle.
func (s *Service) syncFlags(ctx context.Context) error {
	start := s.now()

	flags, err := s.flags.ListAllFlags(ctx)
	if err != nil {
		return err
	}

	count := 0
	errorCount := 0

	for _, f := range flags {
		if err := s.cache.Set(ctx, f.OrganizationID, f.Snapshot()); err != nil {
			s.logger.Warn("failed to sync flag",
				slog.String("organization_id", f.OrganizationID),
				slog.String("key", f.Key),
				slog.String("error", err.Error()),
			)
			observability.SyncedFlagsTotal.WithLabelValues("error").Inc()
			errorCount++
			continue // Try the next flag, don't abort the batch
		}
		observability.SyncedFlagsTotal.WithLabelValues("ok").Inc()
		count++
	}

	observability.SyncCycleDuration.Observe(time.Since(start).Seconds())

	if count > 0 || errorCount > 0 {
		s.logger.Info("sync cycle completed",
			slog.Int("synced", count),
			slog.Int("errors", errorCount),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}

// purgeHistory deletes execution records older than the retention window.
func (s *Service) purgeHistory(ctx context.Context) {
	cutoff := s.now().Add(-store.HistoryRetention)

	purged, err := s.history.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("history purge failed", slog.String("error", err.Error()))
		return
	}

	if purged > 0 {
		observability.HistoryPurgedTotal.Add(float64(purged))
		s.logger.Info("purged old execution history",
			slog.Int64("records", purged),
			slog.Time("cutoff", cutoff),
		)
	}
}
