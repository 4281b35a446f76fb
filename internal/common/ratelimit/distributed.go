package ratelimit

import (
	"context"
	"time"
)

// SlotStore is the subset of the redis client the shared throttle needs
type SlotStore interface {
	ClaimSlot(ctx context.Context, key string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// minPoll bounds the retry loop when the slot key has no readable ttl
const minPoll = 10 * time.Millisecond

// redisThrottle stores the "last request" marker in Redis as a key that
// expires after spacing. Whoever sets it owns the next call.
type redisThrottle struct {
	store   SlotStore
	key     string
	spacing time.Duration
}

// NewRedisThrottle returns a throttle shared by every process using store
func NewRedisThrottle(store SlotStore, key string, spacing time.Duration) Throttle {
	return &redisThrottle{store: store, key: key, spacing: spacing}
}

func (t *redisThrottle) Wait(ctx context.Context) error {
	if t.spacing <= 0 {
		return ctx.Err()
	}

	for {
		ok, err := t.store.ClaimSlot(ctx, t.key, t.spacing)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		wait, err := t.store.TTL(ctx, t.key)
		if err != nil {
			return err
		}
		if wait < minPoll {
			wait = minPoll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
