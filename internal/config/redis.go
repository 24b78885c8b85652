package config

import (
	"fmt"
	"time"
)

// RedisConfig holds Redis connection settings for the flag snapshot cache.
type RedisConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`

	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`

	PoolSize     int `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int `envconfig:"MIN_IDLE_CONNS" default:"2"`
}

// Address returns the host:port pair for the client.
func (c *RedisConfig) Address() string {
	return c.Host + ":" + c.Port
}

// IsConfigured reports whether a Redis connection can be attempted.
func (c *RedisConfig) IsConfigured() bool {
	return c.Host != ""
}

// Validate checks Redis settings.
func (c *RedisConfig) Validate() error {
	if err := validateHost(c.Host, "redis"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "redis"); err != nil {
		return err
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db index cannot be negative, got %d", c.DB)
	}
	return nil
}
