package arbiter

import (
	"context"
	"time"

	"playback-control-plane/backend/internal/lease/domain"
	"playback-control-plane/backend/internal/lease/repository"
)

// Reconciler closes leases that have gone longer than TTL without an update. A stale lease is
// closed as of its last update, so its duration is last_update - opened_at (never negative).
type Reconciler struct {
	TTL          time.Duration
	RecentWindow time.Duration
}

// Reconcile closes every stale open lease of the user inside tx, however old, then loads the
// leases still open. It must run under the user's lock.
func (r Reconciler) Reconcile(ctx context.Context, tx repository.Tx, userID string, now time.Time) (open, expired []*domain.Lease, err error) {
	liveSince := now.Add(-r.TTL)
	expired, err = tx.CloseStale(ctx, userID, liveSince)
	if err != nil {
		return nil, nil, err
	}
	// updatedAfter is exclusive; a lease updated exactly TTL ago is still live.
	open, err = tx.ListOpen(ctx, userID, now.Add(-r.RecentWindow), liveSince.Add(-time.Microsecond))
	if err != nil {
		return nil, nil, err
	}
	return open, expired, nil
}
