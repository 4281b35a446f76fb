package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
)

func testConfig() Config {
	return Config{
		MaxFailures:           3,
		Timeout:               50 * time.Millisecond,
		MaxConcurrentRequests: 1,
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewGoBreaker("token-endpoint", testConfig(), logging.GetGlobalLogger())
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error {
			return errors.ProviderHTTPError(503, fmt.Sprintf("unavailable %d", i))
		})
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewGoBreaker("token-endpoint", testConfig(), nil)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return fmt.Errorf("network down") })
	}
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)
	assert.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := NewGoBreaker("token-endpoint", testConfig(), nil)

	clientErrors := []error{
		errors.ProviderHTTPError(400, "invalid_grant"),
		errors.TokenExpiredError("refresh token expired"),
		errors.ValidationError("missing code"),
		errors.ProviderHTTPError(401, "unauthorized"),
		errors.ProviderHTTPError(400, "invalid_grant"),
	}
	for _, clientErr := range clientErrors {
		err := cb.Execute(context.Background(), func() error { return clientErr })
		assert.Equal(t, clientErr, err, "the original error is returned")
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_CancelledContext(t *testing.T) {
	cb := NewGoBreaker("token-endpoint", testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestNewGoBreaker_InvalidConfigUsesDefaults(t *testing.T) {
	cb := NewGoBreaker("bad", Config{}, nil)
	assert.NotNil(t, cb)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
