// Package arbiter decides whether a user's playback may start or continue on a device class,
// enforcing that Web playback never coexists with an open Desktop lease.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/lease/repository"
	"playback-control-plane/backend/internal/logging"
	"playback-control-plane/backend/internal/telemetry"
	teldomain "playback-control-plane/backend/internal/telemetry/domain"
)

// ErrUnavailable is returned when the lease store cannot be reached or fails. The underlying
// cause is wrapped for logs; callers map it to a retryable failure.
var ErrUnavailable = errors.New("arbiter: temporarily unavailable")

// ConflictMessage is the user-facing explanation attached to a Conflict.
const ConflictMessage = "desktop app is active"

// Verdict is the outcome of StartSession.
type Verdict int

const (
	Allow Verdict = iota
	Conflict
)

func (v Verdict) String() string {
	if v == Conflict {
		return "conflict"
	}
	return "allow"
}

// Decision is the result of StartSession.
type Decision struct {
	Verdict Verdict
	// Lease is the newly opened lease when Verdict is Allow.
	Lease *domain.Lease
	// Preempted holds leases closed because the new lease takes precedence.
	Preempted []*domain.Lease
	// Expired holds stale leases closed by reconciliation during this call.
	Expired []*domain.Lease
}

// Status is the result of PollStatus.
type Status struct {
	// Conflict is true when the caller must stop playing.
	Conflict bool
	// DesktopPresent is advisory: an open desktop lease or a live desktop heartbeat exists.
	DesktopPresent bool
}

// PresenceSource reports recent desktop heartbeats for a user.
type PresenceSource interface {
	LiveForUser(ctx context.Context, userID string) (bool, error)
}

// Config holds the timing the arbiter needs.
type Config struct {
	// LeaseTTL is the liveness TTL after which an untouched lease is stale.
	LeaseTTL time.Duration
	// RecentWindow bounds how far back, by opened_at, open leases are considered.
	RecentWindow time.Duration
}

// Arbiter owns every lease transition. All of a user's decisions run under that user's lock.
type Arbiter struct {
	repo       repository.Repository
	reconciler Reconciler
	presence   PresenceSource
	emitter    telemetry.EventEmitter
	metrics    *telemetry.Metrics
	tracer     trace.Tracer
	nowF       func() time.Time
	newID      func() string
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithPresence sets the heartbeat source used for Status.DesktopPresent.
func WithPresence(p PresenceSource) Option { return func(a *Arbiter) { a.presence = p } }

// WithEmitter sets the playback event emitter.
func WithEmitter(e telemetry.EventEmitter) Option { return func(a *Arbiter) { a.emitter = e } }

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(a *Arbiter) { a.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Arbiter) { a.nowF = now } }

// WithIDGenerator overrides lease ID generation.
func WithIDGenerator(f func() string) Option { return func(a *Arbiter) { a.newID = f } }

// New returns an Arbiter over repo.
func New(repo repository.Repository, cfg Config, opts ...Option) *Arbiter {
	a := &Arbiter{
		repo:       repo,
		reconciler: Reconciler{TTL: cfg.LeaseTTL, RecentWindow: cfg.RecentWindow},
		tracer:     otel.Tracer("playback-control-plane/arbiter"),
		nowF:       time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartSession decides whether userID may start playback on class. A Web request is refused with
// Conflict while an open Desktop lease exists. A Desktop request always succeeds and closes every
// other open lease of the user.
func (a *Arbiter) StartSession(ctx context.Context, userID string, class domain.DeviceClass) (Decision, error) {
	ctx, span := a.tracer.Start(ctx, "arbiter.StartSession",
		trace.WithAttributes(attribute.String("playback.device_class", class.String())))
	defer span.End()

	if !class.Valid() {
		return Decision{}, domain.ErrInvalidDeviceClass
	}
	now := a.now()
	var dec Decision
	err := a.repo.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		dec = Decision{}
		open, expired, err := a.reconciler.Reconcile(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		dec.Expired = expired

		if blocking(class, open) != nil {
			dec.Verdict = Conflict
			return nil
		}

		l := &domain.Lease{
			ID:          a.newID(),
			UserID:      userID,
			DeviceClass: class,
			OpenedAt:    now,
			LastUpdate:  now,
		}
		if class == domain.DeviceClassDesktop {
			preempted, err := tx.CloseOpenExcept(ctx, userID, l.ID, now)
			if err != nil {
				return err
			}
			dec.Preempted = preempted
		}
		if err := tx.Create(ctx, l); err != nil {
			return err
		}
		dec.Verdict = Allow
		dec.Lease = l
		return nil
	})
	if err != nil {
		return Decision{}, a.unavailable(ctx, span, "start", err)
	}

	span.SetAttributes(attribute.String("playback.verdict", dec.Verdict.String()))
	a.metrics.ObserveDecision("start", class.String(), dec.Verdict.String())
	a.recordExpired(ctx, dec.Expired)
	log := logging.Ctx(ctx)
	switch dec.Verdict {
	case Conflict:
		log.Debug().Str("user_id", userID).Str("device_class", class.String()).Msg("arbiter: start refused, desktop active")
		a.emit(ctx, teldomain.EventSessionConflict, userID, "", class, 0, now)
	case Allow:
		log.Debug().Str("user_id", userID).Str("lease_id", dec.Lease.ID).Str("device_class", class.String()).Msg("arbiter: lease opened")
		a.emit(ctx, teldomain.EventLeaseOpened, userID, dec.Lease.ID, class, 0, now)
		for _, p := range dec.Preempted {
			a.metrics.ObserveLeaseClosed("preempted", p.DeviceClass.String(), p.DurationSeconds)
			a.emit(ctx, teldomain.EventLeasePreempted, userID, p.ID, p.DeviceClass, p.DurationSeconds, now)
		}
	}
	return dec, nil
}

// PollStatus reports whether the caller, playing on class, must stop. Stale leases are reconciled
// first. When leaseID names an open lease of the caller, its last_update is advanced to now.
// PollStatus never opens leases and closes only stale ones.
func (a *Arbiter) PollStatus(ctx context.Context, userID string, class domain.DeviceClass, leaseID string) (Status, error) {
	ctx, span := a.tracer.Start(ctx, "arbiter.PollStatus",
		trace.WithAttributes(attribute.String("playback.device_class", class.String())))
	defer span.End()

	if !class.Valid() {
		return Status{}, domain.ErrInvalidDeviceClass
	}
	now := a.now()
	var (
		st      Status
		expired []*domain.Lease
	)
	err := a.repo.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		open, exp, err := a.reconciler.Reconcile(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		expired = exp
		if err := touchIfOpen(ctx, tx, open, leaseID, now); err != nil {
			return err
		}
		st = Status{
			Conflict:       blocking(class, open) != nil,
			DesktopPresent: hasOpen(open, domain.DeviceClassDesktop),
		}
		return nil
	})
	if err != nil {
		return Status{}, a.unavailable(ctx, span, "poll", err)
	}
	a.recordExpired(ctx, expired)

	if !st.DesktopPresent && a.presence != nil {
		live, err := a.presence.LiveForUser(ctx, userID)
		if err != nil {
			a.metrics.ObserveStoreError("presence")
			logging.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("arbiter: heartbeat lookup failed")
		}
		st.DesktopPresent = live
	}

	outcome := "clear"
	if st.Conflict {
		outcome = "conflict"
	}
	span.SetAttributes(attribute.Bool("playback.conflict", st.Conflict))
	a.metrics.ObserveDecision("poll", class.String(), outcome)
	return st, nil
}

// Refresh advances last_update of leaseID when it is an open, non-stale lease of userID.
// It returns domain.ErrLeaseNotFound otherwise.
func (a *Arbiter) Refresh(ctx context.Context, userID, leaseID string) error {
	now := a.now()
	var (
		found   bool
		expired []*domain.Lease
	)
	err := a.repo.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		open, exp, err := a.reconciler.Reconcile(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		expired = exp
		found = containsID(open, leaseID)
		if !found {
			return nil
		}
		return tx.Touch(ctx, leaseID, now)
	})
	if err != nil {
		return a.unavailable(ctx, nil, "refresh", err)
	}
	a.recordExpired(ctx, expired)
	if !found {
		return domain.ErrLeaseNotFound
	}
	return nil
}

// CompleteSession closes leaseID on behalf of its owner. Completing a lease that is already closed
// returns it unchanged. A lease that is stale is closed as of its last update instead of now.
func (a *Arbiter) CompleteSession(ctx context.Context, userID, leaseID string) (*domain.Lease, error) {
	now := a.now()
	var (
		closed  *domain.Lease
		wasOpen bool
		expired []*domain.Lease
	)
	err := a.repo.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		l, err := tx.Get(ctx, leaseID)
		if err != nil {
			return err
		}
		if l == nil || l.UserID != userID {
			return domain.ErrLeaseNotFound
		}
		_, exp, err := a.reconciler.Reconcile(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		expired = exp
		if c := findID(exp, leaseID); c != nil {
			closed = c
			return nil
		}
		wasOpen = l.Open()
		closedAt := now
		if wasOpen && l.StaleAt(now, a.reconciler.TTL) {
			closedAt = l.LastUpdate
		}
		closed, err = tx.Close(ctx, leaseID, closedAt)
		return err
	})
	if errors.Is(err, domain.ErrLeaseNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, a.unavailable(ctx, nil, "complete", err)
	}
	a.recordExpired(ctx, expired)
	if wasOpen {
		a.metrics.ObserveLeaseClosed("completed", closed.DeviceClass.String(), closed.DurationSeconds)
		a.emit(ctx, teldomain.EventLeaseClosed, userID, closed.ID, closed.DeviceClass, closed.DurationSeconds, now)
		logging.Ctx(ctx).Debug().Str("user_id", userID).Str("lease_id", leaseID).
			Int64("duration_seconds", closed.DurationSeconds).Msg("arbiter: lease completed")
	}
	return closed, nil
}

func (a *Arbiter) now() time.Time {
	return a.nowF().UTC()
}

// unavailable logs a store failure and translates it into ErrUnavailable.
func (a *Arbiter) unavailable(ctx context.Context, span trace.Span, op string, err error) error {
	a.metrics.ObserveStoreError(op)
	logging.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("arbiter: lease store failure")
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease store failure")
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (a *Arbiter) recordExpired(ctx context.Context, expired []*domain.Lease) {
	for _, l := range expired {
		a.metrics.ObserveLeaseClosed("expired", l.DeviceClass.String(), l.DurationSeconds)
		a.emit(ctx, teldomain.EventLeaseExpired, l.UserID, l.ID, l.DeviceClass, l.DurationSeconds, *l.ClosedAt)
	}
}

func (a *Arbiter) emit(ctx context.Context, typ teldomain.EventType, userID, leaseID string, class domain.DeviceClass, duration int64, at time.Time) {
	if a.emitter == nil {
		return
	}
	telemetry.EmitAsync(a.emitter, ctx, &teldomain.PlaybackEvent{
		Type:            typ,
		UserID:          userID,
		LeaseID:         leaseID,
		DeviceClass:     class.String(),
		DurationSeconds: duration,
		Source:          "arbiter",
		OccurredAt:      at,
	})
}

func touchIfOpen(ctx context.Context, tx repository.Tx, open []*domain.Lease, leaseID string, at time.Time) error {
	if leaseID == "" || !containsID(open, leaseID) {
		return nil
	}
	return tx.Touch(ctx, leaseID, at)
}

func containsID(ls []*domain.Lease, id string) bool {
	return findID(ls, id) != nil
}

func findID(ls []*domain.Lease, id string) *domain.Lease {
	for _, l := range ls {
		if l.ID == id {
			return l
		}
	}
	return nil
}
