package repository

import (
	"context"
	"time"

	"playback-control-plane/backend/internal/lease/domain"
)

// Repository defines persistence for playback leases. Every read-then-write decision on a
// user's leases must run inside WithUserLock so concurrent callers for the same user are
// serialized; callers never write leases outside of it.
type Repository interface {
	// WithUserLock runs fn in a single transaction holding an exclusive lock keyed by userID.
	// If fn returns an error the transaction is rolled back and the error is returned unchanged.
	WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error
}

// Tx is the set of lease operations available while the per-user lock is held.
type Tx interface {
	// Get returns the lease for id, or nil if not found.
	Get(ctx context.Context, id string) (*domain.Lease, error)
	// ListOpen returns the user's open leases that were opened after openedAfter or updated after
	// updatedAfter, oldest first.
	ListOpen(ctx context.Context, userID string, openedAfter, updatedAfter time.Time) ([]*domain.Lease, error)
	// CloseStale closes every open lease of userID whose last_update is before updatedBefore,
	// with no recency bound. Each lease is closed as of its own last_update. Returns the closed
	// leases, oldest first.
	CloseStale(ctx context.Context, userID string, updatedBefore time.Time) ([]*domain.Lease, error)
	// Create persists l. The lease must have ID set.
	Create(ctx context.Context, l *domain.Lease) error
	// Close closes the open lease id at closedAt and returns it with its duration filled in.
	// Closing an already closed lease is a no-op that returns the stored lease. Returns
	// domain.ErrLeaseNotFound if id does not exist.
	Close(ctx context.Context, id string, closedAt time.Time) (*domain.Lease, error)
	// CloseOpenExcept closes every open lease of userID other than keepID at closedAt, with no
	// recency bound, and returns the leases it closed.
	CloseOpenExcept(ctx context.Context, userID, keepID string, closedAt time.Time) ([]*domain.Lease, error)
	// Touch advances last_update of the open lease id to at. It never moves last_update backwards
	// and does nothing for closed leases.
	Touch(ctx context.Context, id string, at time.Time) error
}
