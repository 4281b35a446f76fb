package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Throttle blocks until the caller may issue its next outbound request
type Throttle interface {
	Wait(ctx context.Context) error
}

// BackendType defines the throttle backend
type BackendType string

const (
	BackendLocal BackendType = "local"
	BackendRedis BackendType = "redis"
)

// DefaultSpacing is the minimum gap between two provider calls
const DefaultSpacing = time.Second

// Config represents throttle configuration
type Config struct {
	Spacing time.Duration `json:"spacing"`
	Type    BackendType   `json:"type"`
	Key     string        `json:"key,omitempty"`
}

// Validate fills defaults and checks the configuration
func (c *Config) Validate() error {
	if c.Spacing < 0 {
		return fmt.Errorf("throttle spacing must not be negative, got %v", c.Spacing)
	}
	if c.Type == "" {
		c.Type = BackendLocal
	}
	if c.Key == "" {
		c.Key = "throttle:linkedin"
	}

	switch c.Type {
	case BackendLocal, BackendRedis:
		return nil
	default:
		return fmt.Errorf("unsupported throttle backend type: %s", c.Type)
	}
}

// New creates a throttle for the configured backend. The redis backend
// requires a SlotStore.
func New(config Config, store ...SlotStore) (Throttle, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case BackendRedis:
		if len(store) == 0 || store[0] == nil {
			return nil, fmt.Errorf("redis client is required for the redis throttle")
		}
		return NewRedisThrottle(store[0], config.Key, config.Spacing), nil
	default:
		return NewLocalThrottle(config.Spacing), nil
	}
}
