package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, DefaultUserAgent, config.UserAgent)
	assert.Nil(t, config.Transport)
}

func TestWithTimeout(t *testing.T) {
	config := DefaultClientConfig()

	WithTimeout(5 * time.Second)(&config)
	assert.Equal(t, 5*time.Second, config.Timeout)

	WithTimeout(0)(&config)
	assert.Equal(t, 5*time.Second, config.Timeout, "zero keeps the previous value")
}

func TestNewHTTPClient_SetsUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(WithUserAgent("sync-test"))
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "sync-test", got)
}

func TestNewHTTPClient_KeepsExplicitUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller")

	resp, err := NewHTTPClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "caller", got)
}

func TestNewHTTPClientWithTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewHTTPClientWithTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, client.Timeout)

	_, err := client.Get(server.URL)
	assert.Error(t, err)
}
