package repository

import (
	"context"
	"time"

	"playback-control-plane/backend/internal/heartbeat/domain"
)

// Repository defines persistence for heartbeats. Reads never delete; only Delete removes a record.
type Repository interface {
	// Upsert creates or refreshes the heartbeat for h.FingerprintHash. last_seen never moves backwards.
	// A record owned by another user is taken over only if its last_seen is before reclaimBefore;
	// otherwise it is left unchanged and domain.ErrFingerprintOwned is returned.
	Upsert(ctx context.Context, h *domain.Heartbeat, reclaimBefore time.Time) error
	// Get returns the heartbeat for fingerprintHash, or nil if not found.
	Get(ctx context.Context, fingerprintHash string) (*domain.Heartbeat, error)
	// Delete removes the heartbeat for fingerprintHash. Deleting a missing record is not an error.
	Delete(ctx context.Context, fingerprintHash string) error
	// LatestForUser returns the most recently seen heartbeat for userID, or nil if none.
	LatestForUser(ctx context.Context, userID string) (*domain.Heartbeat, error)
}
