package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("applies defaults", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		assert.Equal(t, 10, client.config.PoolSize)
		assert.NoError(t, client.Health(context.Background()))
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewClient(&Config{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})
}

func TestClient_ClaimSlot(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	ok, err := client.ClaimSlot(ctx, "throttle:linkedin", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.ClaimSlot(ctx, "throttle:linkedin", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "slot is still held")

	ttl, err := client.TTL(ctx, "throttle:linkedin")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Second)

	mr.FastForward(time.Second)

	ok, err = client.ClaimSlot(ctx, "throttle:linkedin", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "slot is free after the ttl")
}

func TestClient_TTLMissingKey(t *testing.T) {
	client, _ := setupTestRedis(t)

	ttl, err := client.TTL(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestClient_SetGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "plain", "value", 0))
	got, err := client.Get(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	type summary struct {
		Processed int `json:"processed"`
	}
	require.NoError(t, client.Set(ctx, "summary", summary{Processed: 3}, time.Minute))

	var out summary
	require.NoError(t, client.GetJSON(ctx, "summary", &out))
	assert.Equal(t, 3, out.Processed)

	_, err = client.Get(ctx, "missing")
	assert.Equal(t, Nil, err)
}

func TestClient_IncrWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := client.IncrWindow(ctx, "rate_limit:ip:1.2.3.4", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:ip:1.2.3.4"))

	mr.FastForward(time.Minute)
	n, err := client.IncrWindow(ctx, "rate_limit:ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts after expiry")
}
