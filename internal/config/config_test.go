package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"personalization-sync/internal/common/errors"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"DATABASE_TYPE", "DATABASE_PATH",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"JWT_SECRET", "TOKEN_ENCRYPTION_KEY",
	"LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET", "LINKEDIN_REDIRECT_URI",
	"LINKEDIN_RATE_LIMIT_DELAY", "LINKEDIN_HTTP_TIMEOUT", "OAUTH_LENIENT_STATE_FALLBACK",
	"CALLBACK_RATE_LIMIT", "SCHEDULER_ENABLED", "TOKEN_REFRESH_SCHEDULE", "PROFILE_REFRESH_SCHEDULE",
}

func clearTestEnvVars(t *testing.T) {
	for _, key := range testEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func validConfig() *Config {
	return &Config{
		Port:               "8080",
		DatabaseType:       "sqlite",
		DatabasePath:       "./test.db",
		RedisDB:            "0",
		RedisPoolSize:      "10",
		JWTSecret:          strings.Repeat("s", 32),
		TokenEncryptionKey: "token-key",
		LinkedIn: LinkedInConfig{
			ClientID:       "client-id",
			ClientSecret:   "client-secret",
			RedirectURI:    "https://app.example.com/api/linkedin/callback",
			RateLimitDelay: "1s",
			HTTPTimeout:    "30s",
		},
		CallbackRateLimit:      "30",
		SchedulerEnabled:       true,
		TokenRefreshSchedule:   "0 */6 * * *",
		ProfileRefreshSchedule: "0 3 * * 0",
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", config.Port, "8080")
	}
	if config.DatabaseType != "sqlite" {
		t.Errorf("Load() DatabaseType = %v, want sqlite", config.DatabaseType)
	}
	if config.RedisAddress != "" {
		t.Errorf("Load() RedisAddress = %v, want empty", config.RedisAddress)
	}
	if config.LinkedIn.RateLimitDelay != "1s" {
		t.Errorf("Load() RateLimitDelay = %v, want 1s", config.LinkedIn.RateLimitDelay)
	}
	if config.LinkedIn.LenientStateFallback {
		t.Error("Load() LenientStateFallback should default to false")
	}
	if !config.SchedulerEnabled {
		t.Error("Load() SchedulerEnabled should default to true")
	}
	if config.TokenRefreshSchedule != "0 */6 * * *" {
		t.Errorf("Load() TokenRefreshSchedule = %v", config.TokenRefreshSchedule)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LINKEDIN_CLIENT_ID", "abc")
	t.Setenv("OAUTH_LENIENT_STATE_FALLBACK", "true")
	t.Setenv("SCHEDULER_ENABLED", "not-a-bool")
	t.Setenv("LINKEDIN_RATE_LIMIT_DELAY", "250ms")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", config.Port)
	}
	if config.LinkedIn.ClientID != "abc" {
		t.Errorf("Load() ClientID = %v, want abc", config.LinkedIn.ClientID)
	}
	if !config.LinkedIn.LenientStateFallback {
		t.Error("Load() LenientStateFallback = false, want true")
	}
	if !config.SchedulerEnabled {
		t.Error("invalid bool should fall back to the default")
	}
	if got := config.LinkedIn.RateLimitDelayDuration(); got != 250*time.Millisecond {
		t.Errorf("RateLimitDelayDuration() = %v, want 250ms", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, "at least 32"},
		{"missing encryption key", func(c *Config) { c.TokenEncryptionKey = "" }, "TOKEN_ENCRYPTION_KEY"},
		{"missing client id", func(c *Config) { c.LinkedIn.ClientID = "" }, "LINKEDIN_CLIENT_ID"},
		{"missing client secret", func(c *Config) { c.LinkedIn.ClientSecret = "" }, "LINKEDIN_CLIENT_SECRET"},
		{"missing redirect uri", func(c *Config) { c.LinkedIn.RedirectURI = "" }, "LINKEDIN_REDIRECT_URI"},
		{"bad delay", func(c *Config) { c.LinkedIn.RateLimitDelay = "soon" }, "LINKEDIN_RATE_LIMIT_DELAY"},
		{"bad timeout", func(c *Config) { c.LinkedIn.HTTPTimeout = "0s" }, "LINKEDIN_HTTP_TIMEOUT"},
		{"bad port", func(c *Config) { c.Port = "70000" }, "PORT"},
		{"bad database type", func(c *Config) { c.DatabaseType = "mysql" }, "DATABASE_TYPE"},
		{"postgres without host", func(c *Config) { c.DatabaseType = "postgres"; c.PostgresHost = "" }, "POSTGRES_HOST"},
		{"bad callback limit", func(c *Config) { c.CallbackRateLimit = "-1" }, "CALLBACK_RATE_LIMIT"},
		{"bad redis db", func(c *Config) { c.RedisAddress = "localhost:6379"; c.RedisDB = "16" }, "REDIS_DB"},
		{"bad cron", func(c *Config) { c.TokenRefreshSchedule = "every day" }, "TOKEN_REFRESH_SCHEDULE"},
		{"bad cron ignored when scheduler off", func(c *Config) {
			c.SchedulerEnabled = false
			c.ProfileRefreshSchedule = "nope"
		}, ""},
		{"memory database", func(c *Config) { c.DatabaseType = "memory" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
			if !errors.IsType(err, errors.ErrTypeConfiguration) {
				t.Errorf("Validate() error type = %v, want configuration", errors.GetType(err))
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	config := validConfig()
	config.PostgresUser = "u"
	config.PostgresPassword = "p"
	config.PostgresHost = "db"
	config.PostgresPort = "5432"
	config.PostgresDB = "personalization"
	config.PostgresSSLMode = "disable"

	want := "postgres://u:p@db:5432/personalization?sslmode=disable"
	if got := config.PostgresURL(); got != want {
		t.Errorf("PostgresURL() = %v, want %v", got, want)
	}
}

func TestDurationFallbacks(t *testing.T) {
	l := LinkedInConfig{RateLimitDelay: "bad", HTTPTimeout: "bad"}
	if got := l.RateLimitDelayDuration(); got != time.Second {
		t.Errorf("RateLimitDelayDuration() = %v, want 1s", got)
	}
	if got := l.HTTPTimeoutDuration(); got != 30*time.Second {
		t.Errorf("HTTPTimeoutDuration() = %v, want 30s", got)
	}
}
