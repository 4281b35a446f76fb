package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// localThrottle spaces calls within one process
type localThrottle struct {
	limiter *rate.Limiter
}

// NewLocalThrottle returns a throttle that admits one call per spacing.
// A zero spacing disables throttling.
func NewLocalThrottle(spacing time.Duration) Throttle {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &localThrottle{limiter: rate.NewLimiter(limit, 1)}
}

func (t *localThrottle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
