package config

import "fmt"

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"platform"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"NAME" default:"platform"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// IsConfigured reports whether a database connection can be attempted.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.Host != "" && c.Name != ""
}

// ConnString builds the pgx connection string.
func (c *DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Validate checks database settings for the given environment.
func (c *DatabaseConfig) Validate(environment string) error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if c.Password == "" {
			return fmt.Errorf("database password is required in production")
		}
		if !isSecureSSLMode(c.SSLMode) {
			return fmt.Errorf("database ssl mode %q is not allowed in production", c.SSLMode)
		}
	}

	return nil
}

// isSecureSSLMode checks if the SSL mode is production-safe.
func isSecureSSLMode(mode string) bool {
	return mode == "require" || mode == "verify-ca" || mode == "verify-full"
}
