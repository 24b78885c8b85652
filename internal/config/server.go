package config

import "fmt"

// ServerConfig holds the API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// APIKeyHash is the SHA-256 hash of the valid API key. Never the key
	// itself: the plaintext must not live in the environment of every pod.
	APIKeyHash string `envconfig:"API_KEY_HASH"`

	// SkipAuth disables authentication. Development and tests only.
	SkipAuth bool `envconfig:"SKIP_AUTH" default:"false"`

	// DefaultPageSize and MaxPageSize bound list endpoints.
	DefaultPageSize int `envconfig:"DEFAULT_PAGE_SIZE" default:"10"`
	MaxPageSize     int `envconfig:"MAX_PAGE_SIZE" default:"100"`
}

// Validate checks the server configuration for the given environment.
func (c *ServerConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "server"); err != nil {
		return err
	}

	// Production must never run unauthenticated.
	if environment == EnvironmentProduction && c.SkipAuth {
		return fmt.Errorf("server auth cannot be disabled in production")
	}

	if !c.SkipAuth && c.APIKeyHash == "" {
		return fmt.Errorf("server API key hash is required when auth is enabled")
	}

	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid pagination bounds: default=%d max=%d", c.DefaultPageSize, c.MaxPageSize)
	}

	return nil
}
