package config

import (
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	require.NoError(t, envconfig.Process("PLATFORM_TEST_UNSET", cfg))
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, "platform", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.DefaultPageSize)
	assert.Equal(t, 100, cfg.Server.MaxPageSize)

	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "6379", cfg.Redis.Port)
	assert.Equal(t, 10*time.Second, cfg.Syncer.Interval)
	assert.Equal(t, time.Hour, cfg.Syncer.PurgeInterval)

	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, "8081", cfg.Health.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "9090", cfg.Metrics.Port)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PLATFORM_APP_ENV", "staging")
	t.Setenv("PLATFORM_SERVER_PORT", "9999")
	t.Setenv("PLATFORM_SERVER_API_KEY_HASH", "abc123")
	t.Setenv("PLATFORM_DB_HOST", "db.internal")
	t.Setenv("PLATFORM_SYNCER_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 30*time.Second, cfg.Syncer.Interval)
}

func TestValidateRejectsBadEnvironment(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Server.SkipAuth = true
	cfg.App.Environment = "sandbox"

	assert.Error(t, cfg.Validate())
}

func TestServerValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*ServerConfig)
		environment string
		wantErr     bool
	}{
		{
			name:        "auth enabled with hash",
			mutate:      func(c *ServerConfig) { c.APIKeyHash = "deadbeef" },
			environment: "development",
		},
		{
			name:        "auth enabled without hash",
			mutate:      func(c *ServerConfig) {},
			environment: "development",
			wantErr:     true,
		},
		{
			name:        "skip auth in development",
			mutate:      func(c *ServerConfig) { c.SkipAuth = true },
			environment: "development",
		},
		{
			name:        "skip auth in production",
			mutate:      func(c *ServerConfig) { c.SkipAuth = true },
			environment: EnvironmentProduction,
			wantErr:     true,
		},
		{
			name: "max page size below default",
			mutate: func(c *ServerConfig) {
				c.APIKeyHash = "deadbeef"
				c.MaxPageSize = 5
			},
			environment: "development",
			wantErr:     true,
		},
		{
			name: "invalid port",
			mutate: func(c *ServerConfig) {
				c.APIKeyHash = "deadbeef"
				c.Port = "http"
			},
			environment: "development",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tt.mutate(&cfg.Server)

			err := cfg.Server.Validate(tt.environment)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseValidateProduction(t *testing.T) {
	cfg := loadDefaults(t)
	db := cfg.Database

	assert.Error(t, db.Validate(EnvironmentProduction), "missing password")

	db.Password = "secret"
	assert.Error(t, db.Validate(EnvironmentProduction), "insecure ssl mode")

	db.SSLMode = "require"
	assert.NoError(t, db.Validate(EnvironmentProduction))
}

func TestDatabaseConnString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     "5433",
		User:     "svc",
		Password: "pw",
		Name:     "platform",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"postgres://svc:pw@db.internal:5433/platform?sslmode=require",
		db.ConnString())
}

func TestRedisValidate(t *testing.T) {
	cfg := loadDefaults(t)

	assert.NoError(t, cfg.Redis.Validate())
	assert.Equal(t, "localhost:6379", cfg.Redis.Address())

	cfg.Redis.DB = -1
	assert.Error(t, cfg.Redis.Validate())
}

func TestSyncerValidate(t *testing.T) {
	cfg := loadDefaults(t)
	assert.NoError(t, cfg.Syncer.Validate())

	cfg.Syncer.Interval = 100 * time.Millisecond
	assert.Error(t, cfg.Syncer.Validate())

	cfg.Syncer.Interval = 10 * time.Second
	cfg.Syncer.PurgeInterval = time.Second
	assert.Error(t, cfg.Syncer.Validate())
}
