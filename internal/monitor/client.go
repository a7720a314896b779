package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"playback-control-plane/backend/internal/logging"
)

// ErrConflict is returned by StartSession when a desktop lease blocks the start.
var ErrConflict = errors.New("monitor: playback blocked by another device")

// StatusError is a non-2xx answer that has no dedicated sentinel.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.Code, e.Message)
}

// HTTPClient talks to the playback control plane. Server failures trip a circuit breaker so a
// struggling server is not hammered by every client at once.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c *http.Client) ClientOption { return func(h *HTTPClient) { h.http = c } }

// NewHTTPClient returns a client for baseURL that authenticates with the bearer token.
func NewHTTPClient(baseURL, token string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "playback-control-plane",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.L().Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("monitor: circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerFailure(err)
		},
	})
	return c
}

// Status implements StatusClient.
func (c *HTTPClient) Status(ctx context.Context, leaseID string) (Status, error) {
	path := "/v1/playback/status"
	if leaseID != "" {
		path += "?lease_id=" + url.QueryEscape(leaseID)
	}
	var st Status
	if err := c.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return Status{}, err
	}
	return st, nil
}

// StartSession opens a lease for the token's device class and returns its ID.
func (c *HTTPClient) StartSession(ctx context.Context) (string, error) {
	var out struct {
		LeaseID string `json:"lease_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/playback/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.LeaseID, nil
}

// CompleteSession closes leaseID and returns the recorded duration.
func (c *HTTPClient) CompleteSession(ctx context.Context, leaseID string) (int64, error) {
	var out struct {
		DurationSeconds int64 `json:"duration_seconds"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/playback/sessions/"+url.PathEscape(leaseID)+"/complete", nil, &out); err != nil {
		return 0, err
	}
	return out.DurationSeconds, nil
}

type heartbeatBody struct {
	Fingerprint string `json:"fingerprint"`
	LeaseID     string `json:"lease_id,omitempty"`
}

// Heartbeat reports the installation as live and refreshes leaseID when set.
func (c *HTTPClient) Heartbeat(ctx context.Context, fingerprint, leaseID string) error {
	return c.do(ctx, http.MethodPost, "/v1/playback/heartbeat", heartbeatBody{fingerprint, leaseID}, nil)
}

// StopHeartbeat clears the installation's heartbeat and completes leaseID when set.
func (c *HTTPClient) StopHeartbeat(ctx context.Context, fingerprint, leaseID string) error {
	return c.do(ctx, http.MethodPost, "/v1/playback/heartbeat/stop", heartbeatBody{fingerprint, leaseID}, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in)
	})
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrConflict
	default:
		var eb struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &eb)
		return nil, &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
}

// isServerFailure reports whether err means the server is unhealthy rather than that it answered.
func isServerFailure(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConflict) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError
	}
	return true
}
