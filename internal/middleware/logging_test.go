package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"personalization-sync/internal/common/logging"
)

func TestRedactQuery(t *testing.T) {
	q := url.Values{
		"code":       {"secret-code"},
		"state":      {"secret-state"},
		"trainer_id": {"t1"},
	}
	got := RedactQuery(q)

	assert.NotContains(t, got, "secret-code")
	assert.NotContains(t, got, "secret-state")
	assert.Contains(t, got, "trainer_id=t1")
	assert.Equal(t, "secret-code", q.Get("code"), "input is not modified")
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(logging.RequestIDKey).(string)
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req-abc", seen)
		assert.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))
	})
}

func TestLoggingMiddlewareCapturesStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/linkedin/callback?code=x&state=y", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
