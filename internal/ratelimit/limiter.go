// Package ratelimit limits inbound requests per client over a fixed window.
// It guards the public OAuth callback, the one route reachable without a
// bearer token.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
)

// Counter counts hits against a fixed window keyed by client
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Limiter struct {
	counter Counter
	config  *Config
	logger  logging.Logger
}

type Config struct {
	// Limit is the number of requests allowed per window. Zero disables the limiter.
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

type RateLimit struct {
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
	ResetTime time.Time     `json:"reset_time"`
}

// NewLimiter counts in counter, or in process memory when counter is nil.
func NewLimiter(counter Counter, config *Config) *Limiter {
	if config == nil {
		config = &Config{Limit: 30, Window: time.Minute}
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if counter == nil {
		counter = NewLocalCounter()
	}

	return &Limiter{
		counter: counter,
		config:  config,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "inbound_rate_limit"}),
	}
}

// Enabled reports whether requests are limited at all
func (l *Limiter) Enabled() bool {
	return l.config.Limit > 0
}

// Check records one request for key and reports what is left of its window
func (l *Limiter) Check(ctx context.Context, key string) (*RateLimit, error) {
	if !l.Enabled() {
		return &RateLimit{
			Limit:     l.config.Limit,
			Window:    l.config.Window,
			Remaining: 1,
			ResetTime: time.Now().Add(l.config.Window),
		}, nil
	}

	current, err := l.counter.IncrWindow(ctx, fmt.Sprintf("rate_limit:%s", key), l.config.Window)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	remaining := l.config.Limit - int(current)
	if remaining < 0 {
		remaining = -1
	}

	return &RateLimit{
		Limit:     l.config.Limit,
		Window:    l.config.Window,
		Remaining: remaining,
		ResetTime: time.Now().Add(l.config.Window),
	}, nil
}

// HTTPMiddleware rejects requests over the limit with 429. Requests are let
// through when the key is empty or the counter fails.
func (l *Limiter) HTTPMiddleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimit, err := l.Check(r.Context(), key)
			if err != nil {
				l.logger.WithContext(r.Context()).Warn("Rate limit check failed, allowing request",
					logging.Field{Key: "error", Value: err.Error()})
				next.ServeHTTP(w, r)
				return
			}

			remaining := rateLimit.Remaining
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rateLimit.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rateLimit.ResetTime.Unix()))

			if rateLimit.Remaining < 0 {
				l.logger.WithContext(r.Context()).Warn("Rate limit exceeded", logging.Field{Key: "key", Value: key})
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimit.Window.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Rate limit exceeded",
					"type":  string(errors.ErrTypeRateLimit),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys by the first forwarded address, falling back to the peer
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	}
	return fmt.Sprintf("ip:%s", ip)
}

// LocalCounter is a Counter for a single instance. Windows live in a
// go-cache keyed by client and expire with the window.
type LocalCounter struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{cache: gocache.New(time.Minute, 5*time.Minute)}
}

func (c *LocalCounter) IncrWindow(_ context.Context, key string, length time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cache.Add(key, int64(1), length); err == nil {
		return 1, nil
	}
	n, err := c.cache.IncrementInt64(key, 1)
	if err != nil {
		// expired between Add and Increment
		c.cache.Set(key, int64(1), length)
		return 1, nil
	}
	return n, nil
}
