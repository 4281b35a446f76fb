package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerLifecycle(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := New(handler, "0")
	assert.Equal(t, ":0", srv.Addr())

	errCh, err := srv.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "clean shutdown reports no error")
	case <-ctx.Done():
		t.Fatal("serve loop did not exit")
	}
}

func TestServerStartFailsOnBadPort(t *testing.T) {
	_, err := New(http.NotFoundHandler(), "not-a-port").Start()
	assert.Error(t, err)
}
