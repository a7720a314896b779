package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"playback-control-plane/backend/internal/lease/domain"
)

// MemoryRepository is an in-memory Repository used in tests and when no database is configured.
// Writers for the same user are serialized by a per-user mutex; a failed transaction restores the
// user's leases to their state before it started.
type MemoryRepository struct {
	mu     sync.Mutex
	leases map[string]*domain.Lease
	users  map[string]*sync.Mutex
}

// NewMemoryRepository returns an empty in-memory lease repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		leases: make(map[string]*domain.Lease),
		users:  make(map[string]*sync.Mutex),
	}
}

func (r *MemoryRepository) userMutex(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.users[userID]
	if !ok {
		m = &sync.Mutex{}
		r.users[userID] = m
	}
	return m
}

// WithUserLock runs fn while holding the user's mutex.
func (r *MemoryRepository) WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	um := r.userMutex(userID)
	um.Lock()
	defer um.Unlock()

	snapshot := r.snapshot(userID)
	if err := fn(&memoryTx{repo: r, userID: userID}); err != nil {
		r.restore(userID, snapshot)
		return err
	}
	return nil
}

// All returns copies of every stored lease, oldest first. Intended for tests and diagnostics.
func (r *MemoryRepository) All() []*domain.Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Lease, 0, len(r.leases))
	for _, l := range r.leases {
		out = append(out, copyLease(l))
	}
	sortLeases(out)
	return out
}

func (r *MemoryRepository) snapshot(userID string) map[string]*domain.Lease {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := make(map[string]*domain.Lease)
	for id, l := range r.leases {
		if l.UserID == userID {
			snap[id] = copyLease(l)
		}
	}
	return snap
}

func (r *MemoryRepository) restore(userID string, snap map[string]*domain.Lease) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, l := range r.leases {
		if l.UserID == userID {
			delete(r.leases, id)
		}
	}
	for id, l := range snap {
		r.leases[id] = l
	}
}

type memoryTx struct {
	repo   *MemoryRepository
	userID string
}

func (t *memoryTx) Get(ctx context.Context, id string) (*domain.Lease, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	l, ok := t.repo.leases[id]
	if !ok {
		return nil, nil
	}
	return copyLease(l), nil
}

func (t *memoryTx) ListOpen(ctx context.Context, userID string, openedAfter, updatedAfter time.Time) ([]*domain.Lease, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var out []*domain.Lease
	for _, l := range t.repo.leases {
		if l.UserID != userID || !l.Open() {
			continue
		}
		if l.OpenedAt.After(openedAfter) || l.LastUpdate.After(updatedAfter) {
			out = append(out, copyLease(l))
		}
	}
	sortLeases(out)
	return out, nil
}

func (t *memoryTx) Create(ctx context.Context, l *domain.Lease) error {
	if l == nil || l.ID == "" {
		return errors.New("lease id required")
	}
	if l.UserID != t.userID {
		return errors.New("lease user does not match locked user")
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if _, exists := t.repo.leases[l.ID]; exists {
		return errors.New("lease already exists")
	}
	t.repo.leases[l.ID] = copyLease(l)
	return nil
}

func (t *memoryTx) Close(ctx context.Context, id string, closedAt time.Time) (*domain.Lease, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	l, ok := t.repo.leases[id]
	if !ok || l.UserID != t.userID {
		return nil, domain.ErrLeaseNotFound
	}
	if l.Open() {
		l.CloseAt(closedAt)
	}
	return copyLease(l), nil
}

func (t *memoryTx) CloseOpenExcept(ctx context.Context, userID, keepID string, closedAt time.Time) ([]*domain.Lease, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var closed []*domain.Lease
	for id, l := range t.repo.leases {
		if l.UserID != userID || id == keepID || !l.Open() {
			continue
		}
		l.CloseAt(closedAt)
		closed = append(closed, copyLease(l))
	}
	sortLeases(closed)
	return closed, nil
}

func (t *memoryTx) CloseStale(ctx context.Context, userID string, updatedBefore time.Time) ([]*domain.Lease, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	var closed []*domain.Lease
	for _, l := range t.repo.leases {
		if l.UserID != userID || !l.Open() || !l.LastUpdate.Before(updatedBefore) {
			continue
		}
		l.CloseAt(l.LastUpdate)
		closed = append(closed, copyLease(l))
	}
	sortLeases(closed)
	return closed, nil
}

func (t *memoryTx) Touch(ctx context.Context, id string, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	l, ok := t.repo.leases[id]
	if !ok || l.UserID != t.userID || !l.Open() {
		return nil
	}
	if at.After(l.LastUpdate) {
		l.LastUpdate = at
	}
	return nil
}

func copyLease(l *domain.Lease) *domain.Lease {
	c := *l
	if l.ClosedAt != nil {
		t := *l.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

func sortLeases(ls []*domain.Lease) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].OpenedAt.Equal(ls[j].OpenedAt) {
			return ls[i].ID < ls[j].ID
		}
		return ls[i].OpenedAt.Before(ls[j].OpenedAt)
	})
}
