package config

import (
	"fmt"
	"time"
)

// SyncerConfig configures the background workers: the flag cache projection
// and the job history retention purge.
type SyncerConfig struct {
	// Interval is the duration between flag cache sync cycles.
	Interval time.Duration `envconfig:"INTERVAL" default:"10s"`

	// PurgeInterval is the duration between history retention sweeps.
	PurgeInterval time.Duration `envconfig:"PURGE_INTERVAL" default:"1h"`
}

// Validate checks worker intervals.
func (c *SyncerConfig) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("syncer interval must be at least 1s, got %s", c.Interval)
	}
	if c.PurgeInterval < time.Minute {
		return fmt.Errorf("syncer purge interval must be at least 1m, got %s", c.PurgeInterval)
	}
	return nil
}
