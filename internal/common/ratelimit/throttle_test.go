package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"personalization-sync/internal/redis"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"redis", Config{Spacing: time.Second, Type: BackendRedis}, false},
		{"negative spacing", Config{Spacing: -time.Second}, true},
		{"unknown backend", Config{Type: "memcached"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, tt.config.Type)
			assert.Equal(t, "throttle:linkedin", tt.config.Key)
		})
	}
}

func TestNew_RedisRequiresStore(t *testing.T) {
	_, err := New(Config{Type: BackendRedis, Spacing: time.Second})
	assert.Error(t, err)
}

func TestLocalThrottle_Spacing(t *testing.T) {
	const (
		calls   = 4
		spacing = 50 * time.Millisecond
	)

	throttle, err := New(Config{Spacing: spacing})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < calls; i++ {
		require.NoError(t, throttle.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Duration(calls-1)*spacing-5*time.Millisecond)
}

func TestLocalThrottle_FirstCallImmediate(t *testing.T) {
	throttle := NewLocalThrottle(time.Hour)

	start := time.Now()
	require.NoError(t, throttle.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLocalThrottle_ContextCancelled(t *testing.T) {
	throttle := NewLocalThrottle(time.Hour)
	require.NoError(t, throttle.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, throttle.Wait(ctx))
}

func TestLocalThrottle_Disabled(t *testing.T) {
	throttle := NewLocalThrottle(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, throttle.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRedisThrottle(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	throttle, err := New(Config{Type: BackendRedis, Spacing: time.Second}, client)
	require.NoError(t, err)

	// The first instance claims the slot immediately.
	require.NoError(t, throttle.Wait(context.Background()))
	assert.True(t, mr.Exists("throttle:linkedin"))

	// A second instance sharing the store must wait for the slot.
	other := NewRedisThrottle(client, "throttle:linkedin", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, other.Wait(ctx), context.DeadlineExceeded)

	// Once the spacing has elapsed the slot is free again.
	mr.FastForward(time.Second)
	require.NoError(t, other.Wait(context.Background()))
}
