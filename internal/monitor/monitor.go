// Package monitor implements the client-side loop that polls playback status and pauses local
// playback when a higher-precedence device is active.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"playback-control-plane/backend/internal/logging"
)

// ErrRateLimited is returned by a StatusClient when the server answered 429.
var ErrRateLimited = errors.New("monitor: rate limited")

// ConflictMessage is the notice shown when playback is paused for a conflict.
const ConflictMessage = "desktop app is active"

const (
	maxBackoffFactor      = 8
	defaultRequestTimeout = 5 * time.Second
)

// Status is one poll result.
type Status struct {
	Conflict       bool `json:"conflict"`
	DesktopPresent bool `json:"desktop_present"`
}

// StatusClient asks the control plane whether the caller's playback conflicts.
type StatusClient interface {
	Status(ctx context.Context, leaseID string) (Status, error)
}

// Player is the local playback being protected.
type Player interface {
	// Paused reports whether playback is currently paused, for any reason.
	Paused() bool
	Pause()
	Resume()
}

// Notifier surfaces conflict notices to the user.
type Notifier interface {
	Conflict(message string)
}

// Config holds the loop timing.
type Config struct {
	// Interval between polls. Required.
	Interval time.Duration
	// CacheTTL is how long a successful status is reused. Zero disables the cache.
	CacheTTL time.Duration
	// RequestTimeout bounds each status call and must be shorter than Interval. Zero or an
	// out-of-range value means the smaller of 5s and Interval/2.
	RequestTimeout time.Duration
	// LeaseID is sent with each poll so the server refreshes the caller's lease.
	LeaseID string
	// Policy applies to failures other than rate limiting.
	Policy FailurePolicy
}

// Monitor runs the poll loop. Create one per protected playback and call Run in its own goroutine.
type Monitor struct {
	client   StatusClient
	player   Player
	notifier Notifier
	cfg      Config
	cache    *StatusCache
	backoff  *backoff.ExponentialBackOff
	logger   zerolog.Logger
	nowF     func() time.Time

	mu              sync.Mutex
	pausedByMonitor bool
	limited         bool

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithNotifier sets the conflict notifier.
func WithNotifier(n Notifier) Option { return func(m *Monitor) { m.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithClock overrides time.Now for the status cache.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.nowF = now } }

// New returns a Monitor. cfg.Interval must be positive.
func New(client StatusClient, player Player, cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("monitor: interval must be positive")
	}
	if client == nil || player == nil {
		return nil, errors.New("monitor: client and player are required")
	}
	if cfg.RequestTimeout <= 0 || cfg.RequestTimeout >= cfg.Interval {
		cfg.RequestTimeout = min(defaultRequestTimeout, cfg.Interval/2)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Interval
	b.Multiplier = 2
	b.MaxInterval = cfg.Interval * maxBackoffFactor
	b.Reset()

	m := &Monitor{
		client:  client,
		player:  player,
		cfg:     cfg,
		cache:   NewStatusCache(cfg.CacheTTL),
		backoff: b,
		logger:  *logging.L(),
		nowF:    time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run polls until ctx is cancelled or Stop is called. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case <-timer.C:
			timer.Reset(m.Tick(ctx))
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Tick performs one poll and returns the delay before the next one.
func (m *Monitor) Tick(ctx context.Context) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.player.Paused() && !m.pausedByMonitor {
		return m.cfg.Interval
	}
	if st, ok := m.cache.Get(m.nowF()); ok {
		m.apply(st)
		return m.cfg.Interval
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	st, err := m.client.Status(reqCtx, m.cfg.LeaseID)
	cancel()

	switch {
	case err == nil:
		if m.limited {
			m.backoff.Reset()
			m.limited = false
		}
		m.cache.Put(m.nowF(), st)
		m.apply(st)
		return m.cfg.Interval
	case errors.Is(err, ErrRateLimited):
		m.limited = true
		next := m.backoff.NextBackOff()
		if next < m.cfg.Interval {
			next = m.cfg.Interval
		}
		m.logger.Debug().Dur("next_poll", next).Msg("monitor: rate limited, backing off")
		return next
	case ctx.Err() != nil:
		return m.cfg.Interval
	default:
		m.logger.Warn().Err(err).Str("policy", m.cfg.Policy.String()).Msg("monitor: status check failed")
		m.applyFailure()
		return m.cfg.Interval
	}
}

// PausedByMonitor reports whether the monitor currently holds playback paused.
func (m *Monitor) PausedByMonitor() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pausedByMonitor
}

// apply enforces st. A conflict pauses playback whenever it is running, including after the
// user resumed it while the conflict persisted; the notice is shown once per pause.
func (m *Monitor) apply(st Status) {
	if st.Conflict {
		if m.hold() && m.notifier != nil {
			m.notifier.Conflict(ConflictMessage)
		}
		return
	}
	m.release()
}

func (m *Monitor) applyFailure() {
	if m.cfg.Policy == FailClosed {
		m.hold()
		return
	}
	m.release()
}

// hold keeps playback paused on the monitor's behalf and reports whether it had to pause it.
func (m *Monitor) hold() bool {
	m.pausedByMonitor = true
	if m.player.Paused() {
		return false
	}
	m.player.Pause()
	return true
}

// release resumes playback only if the monitor paused it.
func (m *Monitor) release() {
	if m.pausedByMonitor {
		if m.player.Paused() {
			m.player.Resume()
		}
		m.pausedByMonitor = false
	}
}
