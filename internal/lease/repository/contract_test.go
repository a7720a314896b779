package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"playback-control-plane/backend/internal/lease/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

// runContract exercises behaviour every Repository implementation must share.
func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, newRepo(t)) })
	t.Run("list open filter", func(t *testing.T) { testListOpen(t, newRepo(t)) })
	t.Run("close", func(t *testing.T) { testClose(t, newRepo(t)) })
	t.Run("close open except", func(t *testing.T) { testCloseOpenExcept(t, newRepo(t)) })
	t.Run("close stale", func(t *testing.T) { testCloseStale(t, newRepo(t)) })
	t.Run("touch", func(t *testing.T) { testTouch(t, newRepo(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newRepo(t)) })
	t.Run("user lock serializes", func(t *testing.T) { testUserLock(t, newRepo(t)) })
}

func lease(id, user string, class domain.DeviceClass, opened, updated time.Time) *domain.Lease {
	return &domain.Lease{ID: id, UserID: user, DeviceClass: class, OpenedAt: opened, LastUpdate: updated}
}

func inTx(t *testing.T, repo Repository, user string, fn func(tx Tx) error) {
	t.Helper()
	if err := repo.WithUserLock(context.Background(), user, fn); err != nil {
		t.Fatalf("WithUserLock: %v", err)
	}
}

func leaseIDs(ls []*domain.Lease) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.ID)
	}
	sort.Strings(out)
	return out
}

func equalIDs(got []*domain.Lease, want ...string) bool {
	ids := leaseIDs(got)
	sort.Strings(want)
	if len(ids) != len(want) {
		return false
	}
	for i := range ids {
		if ids[i] != want[i] {
			return false
		}
	}
	return true
}

func testCreateGet(t *testing.T, repo Repository) {
	ctx := context.Background()
	inTx(t, repo, "u1", func(tx Tx) error {
		if err := tx.Create(ctx, lease("l1", "u1", domain.DeviceClassWeb, base, base)); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "l1")
		if err != nil {
			return err
		}
		if got == nil || got.UserID != "u1" || got.DeviceClass != domain.DeviceClassWeb || !got.OpenedAt.Equal(base) || !got.Open() {
			t.Errorf("Get = %+v", got)
		}
		missing, err := tx.Get(ctx, "nope")
		if err != nil {
			return err
		}
		if missing != nil {
			t.Errorf("Get(missing) = %+v, want nil", missing)
		}
		return nil
	})
}

func testListOpen(t *testing.T, repo Repository) {
	ctx := context.Background()
	recentCut := base.Add(-7 * 24 * time.Hour)
	staleCut := base.Add(-3 * time.Minute)
	inTx(t, repo, "u1", func(tx Tx) error {
		for _, l := range []*domain.Lease{
			lease("recent", "u1", domain.DeviceClassWeb, base.Add(-time.Hour), base.Add(-time.Hour)),
			lease("ancient-live", "u1", domain.DeviceClassDesktop, base.Add(-30*24*time.Hour), base.Add(-time.Minute)),
			lease("ancient-dead", "u1", domain.DeviceClassWeb, base.Add(-30*24*time.Hour), base.Add(-29*24*time.Hour)),
			lease("closed", "u1", domain.DeviceClassWeb, base.Add(-time.Minute), base.Add(-time.Minute)),
		} {
			if err := tx.Create(ctx, l); err != nil {
				return err
			}
		}
		if _, err := tx.Close(ctx, "closed", base); err != nil {
			return err
		}
		open, err := tx.ListOpen(ctx, "u1", recentCut, staleCut)
		if err != nil {
			return err
		}
		if !equalIDs(open, "recent", "ancient-live") {
			t.Errorf("ListOpen = %v", leaseIDs(open))
		}
		other, err := tx.ListOpen(ctx, "u2", recentCut, staleCut)
		if err != nil {
			return err
		}
		if len(other) != 0 {
			t.Errorf("ListOpen(u2) = %v", leaseIDs(other))
		}
		return nil
	})
}

func testClose(t *testing.T, repo Repository) {
	ctx := context.Background()
	inTx(t, repo, "u1", func(tx Tx) error {
		if err := tx.Create(ctx, lease("l1", "u1", domain.DeviceClassWeb, base, base)); err != nil {
			return err
		}
		closed, err := tx.Close(ctx, "l1", base.Add(90*time.Second))
		if err != nil {
			return err
		}
		if closed.Open() || closed.DurationSeconds != 90 {
			t.Errorf("Close = %+v", closed)
		}
		again, err := tx.Close(ctx, "l1", base.Add(time.Hour))
		if err != nil {
			return err
		}
		if again.DurationSeconds != 90 || !again.ClosedAt.Equal(base.Add(90*time.Second)) {
			t.Errorf("second Close changed the lease: %+v", again)
		}

		if err := tx.Create(ctx, lease("l2", "u1", domain.DeviceClassWeb, base, base)); err != nil {
			return err
		}
		backwards, err := tx.Close(ctx, "l2", base.Add(-time.Minute))
		if err != nil {
			return err
		}
		if backwards.DurationSeconds != 0 {
			t.Errorf("duration = %d, want clamp to 0", backwards.DurationSeconds)
		}

		if _, err := tx.Close(ctx, "missing", base); !errors.Is(err, domain.ErrLeaseNotFound) {
			t.Errorf("Close(missing) err = %v", err)
		}
		return nil
	})
}

func testCloseOpenExcept(t *testing.T, repo Repository) {
	ctx := context.Background()
	inTx(t, repo, "u1", func(tx Tx) error {
		for _, l := range []*domain.Lease{
			lease("web", "u1", domain.DeviceClassWeb, base.Add(-time.Minute), base),
			lease("old-desktop", "u1", domain.DeviceClassDesktop, base.Add(-60*24*time.Hour), base.Add(-59*24*time.Hour)),
		} {
			if err := tx.Create(ctx, l); err != nil {
				return err
			}
		}
		closed, err := tx.CloseOpenExcept(ctx, "u1", "keep", base)
		if err != nil {
			return err
		}
		if !equalIDs(closed, "web", "old-desktop") {
			t.Errorf("closed = %v", leaseIDs(closed))
		}
		for _, l := range closed {
			if l.Open() {
				t.Errorf("%s still open", l.ID)
			}
		}
		if err := tx.Create(ctx, lease("keep", "u1", domain.DeviceClassDesktop, base, base)); err != nil {
			return err
		}
		none, err := tx.CloseOpenExcept(ctx, "u1", "keep", base)
		if err != nil {
			return err
		}
		if len(none) != 0 {
			t.Errorf("second CloseOpenExcept closed %v", leaseIDs(none))
		}
		return nil
	})
}

func testCloseStale(t *testing.T, repo Repository) {
	ctx := context.Background()
	ancient := base.Add(-8 * 24 * time.Hour)
	inTx(t, repo, "u1", func(tx Tx) error {
		for _, l := range []*domain.Lease{
			lease("ancient", "u1", domain.DeviceClassDesktop, ancient, ancient.Add(time.Hour)),
			lease("stale", "u1", domain.DeviceClassWeb, base.Add(-time.Hour), base.Add(-10*time.Minute)),
			lease("edge", "u1", domain.DeviceClassWeb, base.Add(-time.Hour), base.Add(-3*time.Minute)),
			lease("live", "u1", domain.DeviceClassWeb, base.Add(-time.Hour), base),
		} {
			if err := tx.Create(ctx, l); err != nil {
				return err
			}
		}
		closed, err := tx.CloseStale(ctx, "u1", base.Add(-3*time.Minute))
		if err != nil {
			return err
		}
		if !equalIDs(closed, "ancient", "stale") {
			t.Fatalf("closed = %v, want [ancient stale]", leaseIDs(closed))
		}
		if closed[0].ID != "ancient" {
			t.Errorf("closed[0] = %s, want oldest first", closed[0].ID)
		}
		want := map[string]int64{"ancient": 3600, "stale": 3000}
		for _, l := range closed {
			if l.Open() || !l.ClosedAt.Equal(l.LastUpdate) {
				t.Errorf("%s closed_at = %v, want last_update %v", l.ID, l.ClosedAt, l.LastUpdate)
			}
			if l.DurationSeconds != want[l.ID] {
				t.Errorf("%s duration = %d, want %d", l.ID, l.DurationSeconds, want[l.ID])
			}
		}
		for _, id := range []string{"edge", "live"} {
			l, err := tx.Get(ctx, id)
			if err != nil {
				return err
			}
			if !l.Open() {
				t.Errorf("%s closed, want open", id)
			}
		}
		return nil
	})
	inTx(t, repo, "u1", func(tx Tx) error {
		closed, err := tx.CloseStale(ctx, "u1", base.Add(-3*time.Minute))
		if err != nil {
			return err
		}
		if len(closed) != 0 {
			t.Errorf("second CloseStale closed %v", leaseIDs(closed))
		}
		return nil
	})
}

func testTouch(t *testing.T, repo Repository) {
	ctx := context.Background()
	inTx(t, repo, "u1", func(tx Tx) error {
		if err := tx.Create(ctx, lease("l1", "u1", domain.DeviceClassWeb, base, base)); err != nil {
			return err
		}
		if err := tx.Touch(ctx, "l1", base.Add(time.Minute)); err != nil {
			return err
		}
		if err := tx.Touch(ctx, "l1", base.Add(30*time.Second)); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "l1")
		if err != nil {
			return err
		}
		if !got.LastUpdate.Equal(base.Add(time.Minute)) {
			t.Errorf("LastUpdate = %v, want never backwards", got.LastUpdate)
		}
		if _, err := tx.Close(ctx, "l1", base.Add(2*time.Minute)); err != nil {
			return err
		}
		if err := tx.Touch(ctx, "l1", base.Add(time.Hour)); err != nil {
			return err
		}
		got, err = tx.Get(ctx, "l1")
		if err != nil {
			return err
		}
		if !got.LastUpdate.Equal(base.Add(time.Minute)) {
			t.Errorf("closed lease touched: %v", got.LastUpdate)
		}
		return nil
	})
}

func testRollback(t *testing.T, repo Repository) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := repo.WithUserLock(ctx, "u1", func(tx Tx) error {
		if err := tx.Create(ctx, lease("l1", "u1", domain.DeviceClassWeb, base, base)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	inTx(t, repo, "u1", func(tx Tx) error {
		got, err := tx.Get(ctx, "l1")
		if err != nil {
			return err
		}
		if got != nil {
			t.Errorf("lease survived rollback: %+v", got)
		}
		return nil
	})
}

func testUserLock(t *testing.T, repo Repository) {
	ctx := context.Background()
	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- repo.WithUserLock(ctx, "u1", func(tx Tx) error {
				open, err := tx.ListOpen(ctx, "u1", time.Time{}, time.Time{})
				if err != nil {
					return err
				}
				for _, l := range open {
					if l.DeviceClass == domain.DeviceClassDesktop {
						return nil
					}
				}
				id := "desktop-" + string(rune('a'+i))
				return tx.Create(ctx, lease(id, "u1", domain.DeviceClassDesktop, base, base))
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("WithUserLock: %v", err)
		}
	}
	inTx(t, repo, "u1", func(tx Tx) error {
		open, err := tx.ListOpen(ctx, "u1", time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		if len(open) != 1 {
			t.Errorf("open desktop leases = %v, want exactly one", leaseIDs(open))
		}
		return nil
	})
}
