package oauth2

import (
	"context"
	"time"

	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/linkedin"
)

// DefaultRefreshBuffer is how close to expiry an access token is refreshed
const DefaultRefreshBuffer = 5 * time.Minute

// Config tunes the OAuth components
type Config struct {
	// LenientStateFallback creates a missing record on callback instead of
	// rejecting it. See the package documentation for the trade-off.
	LenientStateFallback bool
	// RefreshBuffer defaults to DefaultRefreshBuffer
	RefreshBuffer time.Duration
}

func (c Config) refreshBuffer() time.Duration {
	if c.RefreshBuffer <= 0 {
		return DefaultRefreshBuffer
	}
	return c.RefreshBuffer
}

// AuthProvider is the part of the provider client the authorization flow uses
type AuthProvider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*linkedin.TokenResponse, error)
}

// TokenProvider is the part of the provider client the refresh engine uses
type TokenProvider interface {
	RefreshToken(ctx context.Context, refreshToken string) (*linkedin.TokenResponse, error)
	Revoke(ctx context.Context, token string) error
}

// Cipher seals tokens at rest
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Option configures a Coordinator or Manager
type Option func(*options)

type options struct {
	now    func() time.Time
	logger logging.Logger
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: component})
	}
	return o
}
