// Package ratelimit bounds per-user request volume on the arbitration and heartbeat routes.
package ratelimit

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"playback-control-plane/backend/internal/server/render"
)

// KeyFunc extracts the limiting key (the authenticated user_id) from a request.
type KeyFunc = httprate.KeyFunc

// ErrInvalidConfig is returned by New when requests or window is not positive.
var ErrInvalidConfig = errors.New("ratelimit: requests and window must be positive")

// Limiter is a sliding-window counter keyed by user. One Limiter is built at process start and
// shared by every limited route.
type Limiter struct {
	rl       *httprate.RateLimiter
	requests int
	window   time.Duration
	key      KeyFunc
	onLimit  func(r *http.Request, key string)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithOnLimit registers a callback invoked for every rejected request (metrics, logging).
func WithOnLimit(fn func(r *http.Request, key string)) Option {
	return func(l *Limiter) { l.onLimit = fn }
}

// New returns a Limiter that admits requests per window for each key returned by key.
func New(requests int, window time.Duration, key KeyFunc, opts ...Option) (*Limiter, error) {
	if requests <= 0 || window <= 0 {
		return nil, ErrInvalidConfig
	}
	if key == nil {
		return nil, errors.New("ratelimit: key func is required")
	}
	l := &Limiter{requests: requests, window: window, key: key}
	for _, opt := range opts {
		opt(l)
	}
	l.rl = httprate.NewRateLimiter(requests, window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(writeLimited),
		httprate.WithErrorHandler(writeKeyError),
	)
	return l, nil
}

// Requests returns the configured limit per window.
func (l *Limiter) Requests() int { return l.requests }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow counts one request for key and reports whether it is admitted. Rate headers, including
// Retry-After on rejection, are written to w.
func (l *Limiter) Allow(w http.ResponseWriter, r *http.Request, key string) bool {
	return !l.rl.OnLimit(w, r, key)
}

// Middleware rejects requests over the limit with 429 before they reach next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := l.key(r)
		if err != nil {
			writeKeyError(w, r, err)
			return
		}
		if !l.Allow(w, r, key) {
			if l.onLimit != nil {
				l.onLimit(r, key)
			}
			writeLimited(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeLimited(w http.ResponseWriter, _ *http.Request) {
	render.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// writeKeyError answers requests without an identity; the auth middleware normally rejects them first.
func writeKeyError(w http.ResponseWriter, _ *http.Request, _ error) {
	render.Error(w, http.StatusUnauthorized, "unauthenticated")
}
