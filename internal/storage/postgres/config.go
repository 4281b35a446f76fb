package postgres

import (
	"fmt"
	"net/url"

	"personalization-sync/internal/common/errors"
)

type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.ConfigurationError("PostgreSQL host is required")
	}

	if c.Port <= 0 {
		c.Port = 5432 // default PostgreSQL port
	}

	if c.Database == "" {
		return errors.ConfigurationError("PostgreSQL database name is required")
	}

	if c.Username == "" {
		return errors.ConfigurationError("PostgreSQL username is required")
	}

	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}

	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}

	return nil
}

func (c *Config) GetType() string {
	return "postgres"
}

// GetConnectionString builds a pgx URL
func (c *Config) GetConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
