package domain

import (
	"errors"
	"time"
)

// ErrFingerprintOwned is returned when a fingerprint is held by another user's live heartbeat.
var ErrFingerprintOwned = errors.New("heartbeat: fingerprint belongs to another user")

// Heartbeat is an ephemeral liveness record for one desktop installation. It is independent of
// any lease and carries no duration semantics.
type Heartbeat struct {
	// FingerprintHash is the digest of the per-installation fingerprint; raw fingerprints are not stored.
	FingerprintHash string
	UserID          string
	LastSeen        time.Time
}

// LiveAt reports whether the heartbeat is within window of now.
func (h *Heartbeat) LiveAt(now time.Time, window time.Duration) bool {
	return h != nil && now.Sub(h.LastSeen) <= window
}
