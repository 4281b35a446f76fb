// Package linkedin talks to LinkedIn's OAuth and userinfo endpoints.
//
// Every outbound request first waits on a shared throttle so traffic from all
// callers stays spaced out. Token endpoint calls go through a circuit breaker;
// profile reads follow a bounded retry policy that honours Retry-After.
package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"personalization-sync/internal/circuitbreaker"
	"personalization-sync/internal/common/errors"
	commonhttp "personalization-sync/internal/common/http"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/common/ratelimit"
)

// maxBody caps how much of a response is read
const maxBody = 64 << 10

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// TokenResponse is the token endpoint payload
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// Client is safe for concurrent use
type Client struct {
	config     *Config
	oauth      *oauth2.Config
	httpClient *http.Client
	throttle   ratelimit.Throttle
	breaker    *circuitbreaker.Breaker
	sleep      Sleeper
	logger     logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithThrottle sets the shared outbound throttle
func WithThrottle(t ratelimit.Throttle) Option {
	return func(client *Client) {
		client.throttle = t
	}
}

// WithBreaker sets the token endpoint circuit breaker
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(client *Client) {
		client.breaker = b
	}
}

// WithSleeper replaces the backoff sleep, used by tests
func WithSleeper(s Sleeper) Option {
	return func(client *Client) {
		client.sleep = s
	}
}

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(client *Client) {
		client.logger = l
	}
}

// NewClient validates config and builds a client. Without options it uses a
// local throttle with the default spacing.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: &config,
		oauth:  config.oauth2Config(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "linkedin"})
	}
	if c.httpClient == nil {
		c.httpClient = commonhttp.NewHTTPClientWithTimeout(config.Timeout)
	}
	if c.throttle == nil {
		c.throttle = ratelimit.NewLocalThrottle(ratelimit.DefaultSpacing)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.NewGoBreaker("linkedin-token", circuitbreaker.OAuthConfig, c.logger)
	}
	return c, nil
}

// AuthorizationURL builds the consent URL carrying state
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for tokens
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.config.RedirectURI)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)

	return c.requestToken(ctx, "exchange", data)
}

// RefreshToken obtains a new access token. LinkedIn does not rotate the
// refresh token, so RefreshToken in the response is usually empty.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)

	return c.requestToken(ctx, "refresh", data)
}

func (c *Client) requestToken(ctx context.Context, operation string, data url.Values) (*TokenResponse, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	var token TokenResponse
	err := c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return errors.InternalError("failed to create token request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.ConnectionError(fmt.Sprintf("LinkedIn token %s request failed", operation), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var errResp struct {
				Error       string `json:"error"`
				Description string `json:"error_description"`
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
			detail := http.StatusText(resp.StatusCode)
			if json.Unmarshal(body, &errResp) == nil {
				if errResp.Description != "" {
					detail = errResp.Description
				} else if errResp.Error != "" {
					detail = errResp.Error
				}
			}
			return errors.ProviderHTTPError(resp.StatusCode,
				fmt.Sprintf("LinkedIn token %s failed: %d %s", operation, resp.StatusCode, detail))
		}

		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return errors.ProviderHTTPError(resp.StatusCode, "failed to decode LinkedIn token response").
				WithContext("cause", err.Error())
		}
		if token.AccessToken == "" {
			return errors.ProviderHTTPError(resp.StatusCode, "LinkedIn did not return an access token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// Revoke asks LinkedIn to invalidate token. Only transport failures and
// non-2xx statuses are reported; callers treat both as best effort.
func (c *Client) Revoke(ctx context.Context, token string) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return err
	}

	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", c.config.ClientID)
	data.Set("client_secret", c.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return errors.InternalError("failed to create revoke request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ConnectionError("LinkedIn revoke request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.ProviderHTTPError(resp.StatusCode, fmt.Sprintf("LinkedIn revoke failed: %d", resp.StatusCode))
	}
	return nil
}

// GetProfile fetches and normalizes the authenticated member's profile
func (c *Client) GetProfile(ctx context.Context, accessToken string) (*Profile, error) {
	body, err := c.getWithRetry(ctx, c.config.ProfileURL, accessToken)
	if err != nil {
		return nil, err
	}
	return NormalizeProfile(body)
}

// getWithRetry issues an authenticated GET.
//
// 429 sleeps for Retry-After seconds or (attempt+1)*2s and retries. 401 fails
// at once with a token_expired error. Other non-2xx statuses fail at once.
// Transport errors back off 2^attempt seconds.
func (c *Client) getWithRetry(ctx context.Context, endpoint, accessToken string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		last := attempt == c.config.MaxAttempts-1

		if err := c.throttle.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.InternalError("failed to create profile request", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = errors.ConnectionError("LinkedIn API request failed", err)
			if last {
				return nil, lastErr
			}
			delay := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			c.logger.Warn("LinkedIn request failed, retrying",
				logging.Field{Key: "error", Value: err.Error()},
				logging.Field{Key: "delay", Value: delay.String()},
				logging.Field{Key: "attempt", Value: attempt + 1},
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = errors.RateLimitError("LinkedIn API")
			if last {
				return nil, lastErr
			}
			delay := retryAfter(resp.Header.Get("Retry-After"), attempt)
			c.logger.Warn("LinkedIn rate limited, waiting before retry",
				logging.Field{Key: "delay", Value: delay.String()},
				logging.Field{Key: "attempt", Value: attempt + 1},
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized:
			return nil, errors.TokenExpiredError("access token expired")

		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return nil, errors.ProviderHTTPError(resp.StatusCode,
				fmt.Sprintf("LinkedIn API error: %d %s", resp.StatusCode, providerMessage(body, resp.StatusCode)))
		}

		if readErr != nil {
			return nil, errors.ConnectionError("failed to read LinkedIn response", readErr)
		}
		return body, nil
	}

	return nil, lastErr
}

// retryAfter reads a Retry-After value in seconds, falling back to
// (attempt+1)*2s when absent or unparseable.
func retryAfter(header string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(attempt+1) * 2 * time.Second
}

func providerMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return http.StatusText(status)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
