package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", "tok-1", WithHTTPClient(srv.Client()))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestHTTPClient_Status(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/playback/status", r.URL.Path)
		assert.Equal(t, "lease 1", r.URL.Query().Get("lease_id"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]bool{"conflict": true, "desktop_present": true})
	})
	st, err := c.Status(context.Background(), "lease 1")
	require.NoError(t, err)
	assert.Equal(t, Status{Conflict: true, DesktopPresent: true}, st)
}

func TestHTTPClient_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRateLimited) }},
		{"conflict", http.StatusConflict, func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrConflict) }},
		{"unavailable", http.StatusServiceUnavailable, func(t *testing.T, err error) {
			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, http.StatusServiceUnavailable, se.Code)
			assert.Equal(t, "temporarily unavailable", se.Message)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.status, map[string]string{"error": "temporarily unavailable"})
			})
			_, err := c.Status(context.Background(), "")
			tt.check(t, err)
		})
	}
}

func TestHTTPClient_SessionLifecycle(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/playback/sessions":
			writeJSON(w, http.StatusOK, map[string]string{"lease_id": "lease-7"})
		case "/v1/playback/sessions/lease-7/complete":
			writeJSON(w, http.StatusOK, map[string]any{"lease_id": "lease-7", "duration_seconds": 12})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "lease not found"})
		}
	})
	id, err := c.StartSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lease-7", id)

	d, err := c.CompleteSession(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 12, d)

	_, err = c.CompleteSession(context.Background(), "other")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestHTTPClient_Heartbeat(t *testing.T) {
	var got []map[string]string
	var paths []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		require.NoError(t, json.Unmarshal(raw, &body))
		got = append(got, body)
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, struct{}{})
	})
	require.NoError(t, c.Heartbeat(context.Background(), "fp-1", "lease-1"))
	require.NoError(t, c.StopHeartbeat(context.Background(), "fp-1", ""))

	assert.Equal(t, []string{"/v1/playback/heartbeat", "/v1/playback/heartbeat/stop"}, paths)
	assert.Equal(t, map[string]string{"fingerprint": "fp-1", "lease_id": "lease-1"}, got[0])
	assert.Equal(t, map[string]string{"fingerprint": "fp-1"}, got[1])
}

func TestHTTPClient_BreakerOpensOnServerFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	})
	for i := 0; i < 5; i++ {
		_, err := c.Status(context.Background(), "")
		require.Error(t, err)
	}
	_, err := c.Status(context.Background(), "")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.EqualValues(t, 5, hits.Load())
}

func TestHTTPClient_RateLimitDoesNotTripBreaker(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	})
	for i := 0; i < 10; i++ {
		_, err := c.Status(context.Background(), "")
		require.ErrorIs(t, err, ErrRateLimited)
	}
}

func TestIsServerFailure(t *testing.T) {
	assert.False(t, isServerFailure(ErrRateLimited))
	assert.False(t, isServerFailure(ErrConflict))
	assert.False(t, isServerFailure(&StatusError{Code: http.StatusNotFound}))
	assert.True(t, isServerFailure(&StatusError{Code: http.StatusBadGateway}))
	assert.True(t, isServerFailure(errors.New("dial tcp: connection refused")))
}
