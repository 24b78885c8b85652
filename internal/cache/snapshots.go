package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exyconn/platform/internal/flagengine"
	"github.com/exyconn/platform/internal/observability"
)

// keyPrefix namespaces all flag snapshot keys in Redis.
// Example: "flags:org-1:new-checkout-flow"
const keyPrefix = "flags"

// snapshotTTL bounds staleness if the syncer falls behind or an
// invalidation is lost.
const snapshotTTL = 5 * time.Minute

// ErrMiss is returned when the requested snapshot is not cached.
var ErrMiss = errors.New("cache: miss")

// Snapshots defines the flag snapshot cache operations.
type Snapshots interface {
	// Get returns the cached snapshot for a flag, or ErrMiss.
	Get(ctx context.Context, orgID, flagKey string) (flagengine.Snapshot, error)

	// Set stores a snapshot.
	Set(ctx context.Context, orgID string, snap flagengine.Snapshot) error

	// Delete drops a snapshot after a flag mutation.
	Delete(ctx context.Context, orgID, flagKey string) error
}

// RedisSnapshots implements Snapshots on a go-redis client.
type RedisSnapshots struct {
	client *redis.Client
}

var _ Snapshots = (*RedisSnapshots)(nil)

// NewRedisSnapshots wraps an existing Redis client.
func NewRedisSnapshots(client *redis.Client) *RedisSnapshots {
	if client == nil {
		panic("cache: redis client is required")
	}
	return &RedisSnapshots{client: client}
}

func snapshotKey(orgID, flagKey string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, orgID, flagKey)
}

// Get fetches and decodes a snapshot. A missing key is reported as ErrMiss
// so callers can fall back to the database.
func (c *RedisSnapshots) Get(ctx context.Context, orgID, flagKey string) (flagengine.Snapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKey(orgID, flagKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.FlagCacheMisses.Inc()
		return flagengine.Snapshot{}, ErrMiss
	}
	if err != nil {
		return flagengine.Snapshot{}, fmt.Errorf("cache get %q: %w", flagKey, err)
	}

	var snap flagengine.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// A corrupt entry behaves like a miss so the caller re-populates it.
		observability.FlagCacheMisses.Inc()
		return flagengine.Snapshot{}, ErrMiss
	}

	observability.FlagCacheHits.Inc()
	return snap, nil
}

// Set encodes and stores a snapshot with the standard TTL.
func (c *RedisSnapshots) Set(ctx context.Context, orgID string, snap flagengine.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", snap.Key, err)
	}

	if err := c.client.Set(ctx, snapshotKey(orgID, snap.Key), raw, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", snap.Key, err)
	}
	return nil
}

// Delete removes a snapshot. Missing keys are not an error.
func (c *RedisSnapshots) Delete(ctx context.Context, orgID, flagKey string) error {
	if err := c.client.Del(ctx, snapshotKey(orgID, flagKey)).Err(); err != nil {
		return fmt.Errorf("cache delete %q: %w", flagKey, err)
	}
	return nil
}
