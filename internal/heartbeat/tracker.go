// Package heartbeat records desktop liveness pings and answers presence queries.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"playback-control-plane/backend/internal/arbiter"
	"playback-control-plane/backend/internal/heartbeat/domain"
	"playback-control-plane/backend/internal/heartbeat/repository"
	leasedomain "playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/security"
	"playback-control-plane/backend/internal/telemetry"
)

// ErrInvalidFingerprint is returned for an empty installation fingerprint.
var ErrInvalidFingerprint = errors.New("heartbeat: fingerprint is required")

// Sessions is the part of the Arbiter the tracker drives when a heartbeat names a lease.
type Sessions interface {
	Refresh(ctx context.Context, userID, leaseID string) error
	CompleteSession(ctx context.Context, userID, leaseID string) (*leasedomain.Lease, error)
}

// Tracker records heartbeats keyed by fingerprint digest. Readers never delete records.
type Tracker struct {
	repo     repository.Repository
	sessions Sessions
	window   time.Duration
	metrics  *telemetry.Metrics
	nowF     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSessions lets heartbeats that carry a lease ID refresh or complete that lease.
func WithSessions(s Sessions) Option { return func(t *Tracker) { t.sessions = s } }

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.nowF = now } }

// NewTracker returns a Tracker whose heartbeats count as live for window.
func NewTracker(repo repository.Repository, window time.Duration, opts ...Option) *Tracker {
	t := &Tracker{repo: repo, window: window, nowF: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AttachSessions sets the lease sessions after construction. The Arbiter reads presence from the
// Tracker, so one of the two is always built first.
func (t *Tracker) AttachSessions(s Sessions) { t.sessions = s }

// Beat records a heartbeat for fingerprint. last_seen only moves forward. A fingerprint held by
// another user's live heartbeat is refused with domain.ErrFingerprintOwned. When leaseID is set
// and names an open lease of userID, the lease is refreshed as well.
func (t *Tracker) Beat(ctx context.Context, fingerprint, userID, leaseID string) error {
	if strings.TrimSpace(fingerprint) == "" {
		return ErrInvalidFingerprint
	}
	t.metrics.ObserveHeartbeat("beat")
	h := &domain.Heartbeat{
		FingerprintHash: security.HashFingerprint(fingerprint),
		UserID:          userID,
		LastSeen:        t.now(),
	}
	if err := t.repo.Upsert(ctx, h, h.LastSeen.Add(-t.window)); err != nil {
		if errors.Is(err, domain.ErrFingerprintOwned) {
			logging.Ctx(ctx).Warn().Str("user_id", userID).Msg("heartbeat: fingerprint held by another user")
			return err
		}
		return t.unavailable(ctx, "heartbeat_upsert", err)
	}
	if leaseID == "" || t.sessions == nil {
		return nil
	}
	err := t.sessions.Refresh(ctx, userID, leaseID)
	if errors.Is(err, leasedomain.ErrLeaseNotFound) {
		logging.Ctx(ctx).Debug().Str("user_id", userID).Str("lease_id", leaseID).Msg("heartbeat: lease not open, not refreshed")
		return nil
	}
	return err
}

// Stop removes the heartbeat for fingerprint and completes leaseID when set. A record owned by
// another user is left in place.
func (t *Tracker) Stop(ctx context.Context, fingerprint, userID, leaseID string) error {
	if strings.TrimSpace(fingerprint) == "" {
		return ErrInvalidFingerprint
	}
	t.metrics.ObserveHeartbeat("stop")
	hash := security.HashFingerprint(fingerprint)
	h, err := t.repo.Get(ctx, hash)
	if err != nil {
		return t.unavailable(ctx, "heartbeat_get", err)
	}
	if h != nil && h.UserID == userID {
		if err := t.repo.Delete(ctx, hash); err != nil {
			return t.unavailable(ctx, "heartbeat_delete", err)
		}
	}
	if leaseID == "" || t.sessions == nil {
		return nil
	}
	if _, err := t.sessions.CompleteSession(ctx, userID, leaseID); err != nil && !errors.Is(err, leasedomain.ErrLeaseNotFound) {
		return err
	}
	return nil
}

// IsLive reports whether fingerprint has a heartbeat within the window.
func (t *Tracker) IsLive(ctx context.Context, fingerprint string) (bool, error) {
	h, err := t.repo.Get(ctx, security.HashFingerprint(fingerprint))
	if err != nil {
		return false, t.unavailable(ctx, "heartbeat_get", err)
	}
	return h.LiveAt(t.now(), t.window), nil
}

// LiveForUser reports whether any of userID's desktop installations has a live heartbeat.
func (t *Tracker) LiveForUser(ctx context.Context, userID string) (bool, error) {
	h, err := t.repo.LatestForUser(ctx, userID)
	if err != nil {
		return false, t.unavailable(ctx, "heartbeat_latest", err)
	}
	return h.LiveAt(t.now(), t.window), nil
}

func (t *Tracker) now() time.Time {
	return t.nowF().UTC()
}

func (t *Tracker) unavailable(ctx context.Context, op string, err error) error {
	t.metrics.ObserveStoreError(op)
	logging.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("heartbeat: store failure")
	return fmt.Errorf("%w: %w", arbiter.ErrUnavailable, err)
}
