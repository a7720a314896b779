package repository

import (
	"context"
	"sync"
	"time"

	"playback-control-plane/backend/internal/heartbeat/domain"
)

// MemoryRepository is an in-memory Repository used in tests and when no database is configured.
type MemoryRepository struct {
	mu sync.RWMutex
	m  map[string]domain.Heartbeat
}

// NewMemoryRepository returns an empty in-memory heartbeat repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Heartbeat)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, h *domain.Heartbeat, reclaimBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.m[h.FingerprintHash]
	if ok && cur.UserID != h.UserID && !cur.LastSeen.Before(reclaimBefore) {
		return domain.ErrFingerprintOwned
	}
	next := *h
	if ok && cur.LastSeen.After(next.LastSeen) {
		next.LastSeen = cur.LastSeen
	}
	r.m[h.FingerprintHash] = next
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, fingerprintHash string) (*domain.Heartbeat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[fingerprintHash]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, fingerprintHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, fingerprintHash)
	return nil
}

func (r *MemoryRepository) LatestForUser(ctx context.Context, userID string) (*domain.Heartbeat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Heartbeat
	for _, h := range r.m {
		if h.UserID != userID {
			continue
		}
		if latest == nil || h.LastSeen.After(latest.LastSeen) {
			c := h
			latest = &c
		}
	}
	return latest, nil
}

// Len returns the number of stored heartbeats.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
