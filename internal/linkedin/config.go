package linkedin

import (
	"time"

	"golang.org/x/oauth2"
	"personalization-sync/internal/common/errors"
)

// LinkedIn endpoints
const (
	DefaultAuthURL    = "https://www.linkedin.com/oauth/v2/authorization"
	DefaultTokenURL   = "https://www.linkedin.com/oauth/v2/accessToken"
	DefaultRevokeURL  = "https://www.linkedin.com/oauth/v2/revoke"
	DefaultProfileURL = "https://api.linkedin.com/v2/userinfo"
)

// DefaultScopes are the OpenID Connect scopes needed for the userinfo endpoint
var DefaultScopes = []string{"openid", "profile"}

// DefaultMaxAttempts bounds retries of a profile request
const DefaultMaxAttempts = 3

// Config describes the LinkedIn application and its endpoints
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL    string
	TokenURL   string
	RevokeURL  string
	ProfileURL string
	Scopes     []string

	// Timeout applies to every outbound request
	Timeout     time.Duration
	MaxAttempts int
}

// Validate fills endpoint defaults and rejects missing credentials
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.ConfigurationError("LinkedIn client ID is required")
	}
	if c.ClientSecret == "" {
		return errors.ConfigurationError("LinkedIn client secret is required")
	}
	if c.RedirectURI == "" {
		return errors.ConfigurationError("LinkedIn redirect URI is required")
	}
	if c.AuthURL == "" {
		c.AuthURL = DefaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.RevokeURL == "" {
		c.RevokeURL = DefaultRevokeURL
	}
	if c.ProfileURL == "" {
		c.ProfileURL = DefaultProfileURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

func (c *Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURI,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
