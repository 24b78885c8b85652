package health

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type postgresChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresChecker probes the connection pool with a ping.
func NewPostgresChecker(pool *pgxpool.Pool) Checker {
	return &postgresChecker{pool: pool}
}

func (p *postgresChecker) Name() string { return "database" }

func (p *postgresChecker) Check(ctx context.Context) error {
	// Own deadline: the readiness handler's budget covers all probes, a slow
	// database must not eat the whole window.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

type redisChecker struct {
	client *redis.Client
}

// NewRedisChecker probes the Redis client with a PING.
func NewRedisChecker(client *redis.Client) Checker {
	return &redisChecker{client: client}
}

func (r *redisChecker) Name() string { return "redis" }

func (r *redisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
