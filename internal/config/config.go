// Package config provides configuration management for the personalization sync service.
// It loads configuration from environment variables with sensible defaults and
// validates it so the service refuses to start with missing provider secrets.
//
// The loaded Config is passed explicitly to every component constructor; no
// package reads the environment on its own.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - LOG_FILE: Append logs to this file instead of stdout
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite", "postgres" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./personalization.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Redis Configuration (optional, enables the shared throttle and job locks):
//   - REDIS_ADDRESS: Redis server address (default: empty, disabled)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Security Configuration:
//   - JWT_SECRET: API bearer token signing secret (required, minimum 32 characters)
//   - TOKEN_ENCRYPTION_KEY: Passphrase for encrypting OAuth tokens at rest (required)
//
// LinkedIn Provider:
//   - LINKEDIN_CLIENT_ID, LINKEDIN_CLIENT_SECRET, LINKEDIN_REDIRECT_URI (required)
//   - LINKEDIN_RATE_LIMIT_DELAY: Minimum spacing between provider calls (default: 1s)
//   - LINKEDIN_HTTP_TIMEOUT: Timeout of every provider call (default: 30s)
//   - OAUTH_LENIENT_STATE_FALLBACK: Accept a callback whose record does not exist
//     yet by creating it (default: false). This weakens CSRF protection.
//
// Background Jobs:
//   - SCHEDULER_ENABLED: Run the refresh jobs on a schedule (default: true)
//   - TOKEN_REFRESH_SCHEDULE: Cron spec of the token refresh job (default: every 6 hours)
//   - PROFILE_REFRESH_SCHEDULE: Cron spec of the profile refresh job (default: Sundays 03:00)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"personalization-sync/internal/common/errors"
)

// Config holds all configuration values for the service.
type Config struct {
	// Application settings
	Port      string
	LogLevel  string
	LogFormat string
	LogFile   string

	// Database configuration
	DatabaseType     string // "sqlite", "postgres" or "memory"
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for the shared throttle and job locks
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Security
	JWTSecret          string
	TokenEncryptionKey string

	// LinkedIn provider
	LinkedIn LinkedInConfig

	// Requests per minute per client on the public OAuth callback; 0 disables
	CallbackRateLimit string

	// Background jobs
	SchedulerEnabled       bool
	TokenRefreshSchedule   string
	ProfileRefreshSchedule string
}

// LinkedInConfig is the provider configuration value object handed to the
// OAuth coordinator, the refresh engine and the provider client.
type LinkedInConfig struct {
	ClientID             string
	ClientSecret         string
	RedirectURI          string
	RateLimitDelay       string
	HTTPTimeout          string
	LenientStateFallback bool
}

// Load creates a new Config instance with values loaded from environment variables.
// It does not validate; call Validate on the result.
func Load() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./personalization.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "personalization"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),

		LinkedIn: LinkedInConfig{
			ClientID:             getEnv("LINKEDIN_CLIENT_ID", ""),
			ClientSecret:         getEnv("LINKEDIN_CLIENT_SECRET", ""),
			RedirectURI:          getEnv("LINKEDIN_REDIRECT_URI", ""),
			RateLimitDelay:       getEnv("LINKEDIN_RATE_LIMIT_DELAY", "1s"),
			HTTPTimeout:          getEnv("LINKEDIN_HTTP_TIMEOUT", "30s"),
			LenientStateFallback: getBoolEnv("OAUTH_LENIENT_STATE_FALLBACK", false),
		},

		CallbackRateLimit: getEnv("CALLBACK_RATE_LIMIT", "30"),

		SchedulerEnabled:       getBoolEnv("SCHEDULER_ENABLED", true),
		TokenRefreshSchedule:   getEnv("TOKEN_REFRESH_SCHEDULE", "0 */6 * * *"),
		ProfileRefreshSchedule: getEnv("PROFILE_REFRESH_SCHEDULE", "0 3 * * 0"),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Unparseable values fall back to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks required secrets, formats and cross-field dependencies.
// Missing provider or encryption secrets are reported as configuration errors.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.ConfigurationError("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return errors.ConfigurationError("JWT_SECRET must be at least 32 characters long for security")
	}
	if c.TokenEncryptionKey == "" {
		return errors.ConfigurationError("TOKEN_ENCRYPTION_KEY environment variable is required")
	}

	if err := c.LinkedIn.Validate(); err != nil {
		return err
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return errors.ConfigurationError("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "memory":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return errors.ConfigurationError("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return errors.ConfigurationError("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return errors.ConfigurationError("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return errors.ConfigurationError("POSTGRES_PORT must be a valid port number")
		}
	default:
		return errors.ConfigurationError("DATABASE_TYPE must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return errors.ConfigurationError("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return errors.ConfigurationError("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if n, err := strconv.Atoi(c.CallbackRateLimit); err != nil || n < 0 {
		return errors.ConfigurationError("CALLBACK_RATE_LIMIT must be a non-negative number")
	}

	if c.SchedulerEnabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.TokenRefreshSchedule); err != nil {
			return errors.ConfigurationError(fmt.Sprintf("TOKEN_REFRESH_SCHEDULE is not a valid cron spec: %v", err))
		}
		if _, err := parser.Parse(c.ProfileRefreshSchedule); err != nil {
			return errors.ConfigurationError(fmt.Sprintf("PROFILE_REFRESH_SCHEDULE is not a valid cron spec: %v", err))
		}
	}

	return nil
}

// Validate checks the provider credentials and durations.
func (l LinkedInConfig) Validate() error {
	if l.ClientID == "" {
		return errors.ConfigurationError("LINKEDIN_CLIENT_ID environment variable is required")
	}
	if l.ClientSecret == "" {
		return errors.ConfigurationError("LINKEDIN_CLIENT_SECRET environment variable is required")
	}
	if l.RedirectURI == "" {
		return errors.ConfigurationError("LINKEDIN_REDIRECT_URI environment variable is required")
	}
	if d, err := time.ParseDuration(l.RateLimitDelay); err != nil || d < 0 {
		return errors.ConfigurationError("LINKEDIN_RATE_LIMIT_DELAY must be a valid non-negative duration (e.g., '1s')")
	}
	if d, err := time.ParseDuration(l.HTTPTimeout); err != nil || d <= 0 {
		return errors.ConfigurationError("LINKEDIN_HTTP_TIMEOUT must be a valid positive duration (e.g., '30s')")
	}
	return nil
}

// RateLimitDelayDuration returns the parsed provider call spacing
func (l LinkedInConfig) RateLimitDelayDuration() time.Duration {
	d, err := time.ParseDuration(l.RateLimitDelay)
	if err != nil || d < 0 {
		return time.Second
	}
	return d
}

// HTTPTimeoutDuration returns the parsed provider call timeout
func (l LinkedInConfig) HTTPTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(l.HTTPTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CallbackRateLimitValue returns the parsed callback limit
func (c *Config) CallbackRateLimitValue() int {
	n, err := strconv.Atoi(c.CallbackRateLimit)
	if err != nil || n < 0 {
		return 30
	}
	return n
}

// PostgresURL builds the pgx connection string
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresSSLMode)
}
