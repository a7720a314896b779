package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"playback-control-plane/backend/internal/heartbeat/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("upsert never moves last_seen backwards", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base})
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base.Add(-time.Minute)})
		got, err := repo.Get(ctx, "fp1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil || !got.LastSeen.Equal(base) {
			t.Fatalf("Get = %+v, want last_seen %v", got, base)
		}
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base.Add(time.Minute)})
		got, _ = repo.Get(ctx, "fp1")
		if !got.LastSeen.Equal(base.Add(time.Minute)) {
			t.Errorf("last_seen = %v, want advanced", got.LastSeen)
		}
	})

	t.Run("upsert keeps a live owner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base})
		err := repo.Upsert(ctx, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u2", LastSeen: base.Add(time.Minute)}, base.Add(-2*time.Minute))
		if !errors.Is(err, domain.ErrFingerprintOwned) {
			t.Fatalf("Upsert by other user err = %v, want ErrFingerprintOwned", err)
		}
		got, _ := repo.Get(ctx, "fp1")
		if got.UserID != "u1" || !got.LastSeen.Equal(base) {
			t.Errorf("Get = %+v, want untouched u1 record", got)
		}
		if err := repo.Upsert(ctx, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u2", LastSeen: base.Add(5 * time.Minute)}, base.Add(2*time.Minute)); err != nil {
			t.Fatalf("Upsert reclaiming silent record: %v", err)
		}
		got, _ = repo.Get(ctx, "fp1")
		if got.UserID != "u2" || !got.LastSeen.Equal(base.Add(5*time.Minute)) {
			t.Errorf("Get = %+v, want u2 at +5m", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		got, err := newRepo(t).Get(context.Background(), "nope")
		if err != nil || got != nil {
			t.Errorf("Get(missing) = %+v, %v", got, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base})
		if err := repo.Delete(ctx, "fp1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(ctx, "fp1"); err != nil {
			t.Errorf("Delete(missing): %v", err)
		}
		if got, _ := repo.Get(ctx, "fp1"); got != nil {
			t.Errorf("Get after Delete = %+v", got)
		}
	})

	t.Run("latest for user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp1", UserID: "u1", LastSeen: base})
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp2", UserID: "u1", LastSeen: base.Add(time.Minute)})
		mustUpsert(t, repo, &domain.Heartbeat{FingerprintHash: "fp3", UserID: "u2", LastSeen: base.Add(time.Hour)})
		got, err := repo.LatestForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("LatestForUser: %v", err)
		}
		if got == nil || got.FingerprintHash != "fp2" {
			t.Errorf("LatestForUser = %+v, want fp2", got)
		}
		none, err := repo.LatestForUser(ctx, "u3")
		if err != nil || none != nil {
			t.Errorf("LatestForUser(u3) = %+v, %v", none, err)
		}
	})
}

func mustUpsert(t *testing.T, repo Repository, h *domain.Heartbeat) {
	t.Helper()
	if err := repo.Upsert(context.Background(), h, h.LastSeen.Add(-time.Hour)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}
