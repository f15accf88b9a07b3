package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestReserveCreditsConcurrentBurst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := id.NewOrgID()
	key := period.MustParse("2026-08")

	const workers = 40
	const limit = 10

	var wg sync.WaitGroup
	granted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.ReserveCredits(ctx, orgID, key, 1, limit)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			granted <- ok
		}()
	}
	wg.Wait()
	close(granted)

	var grants int
	for ok := range granted {
		if ok {
			grants++
		}
	}
	if grants != limit {
		t.Fatalf("grants = %d, want %d", grants, limit)
	}

	per, err := s.GetPeriod(ctx, orgID, key)
	if err != nil {
		t.Fatal(err)
	}
	if per.CreditsUsed != limit {
		t.Fatalf("credits_used = %d, want %d", per.CreditsUsed, limit)
	}
}

func TestReleaseCreditsClamping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := id.NewOrgID()
	key := period.MustParse("2026-08")

	if _, ok, err := s.ReserveCredits(ctx, orgID, key, 3, 10); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	used, clamped, err := s.ReleaseCredits(ctx, orgID, key, 2)
	if err != nil {
		t.Fatal(err)
	}
	if clamped || used != 1 {
		t.Fatalf("normal release: used=%d clamped=%v, want 1 false", used, clamped)
	}

	// Releasing more than remains clamps at zero and reports it.
	used, clamped, err = s.ReleaseCredits(ctx, orgID, key, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !clamped || used != 0 {
		t.Fatalf("over-release: used=%d clamped=%v, want 0 true", used, clamped)
	}

	// No usage row at all is the fully clamped case.
	used, clamped, err = s.ReleaseCredits(ctx, id.NewOrgID(), key, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !clamped || used != 0 {
		t.Fatalf("missing row: used=%d clamped=%v, want 0 true", used, clamped)
	}
}

func TestPeriodsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := id.NewOrgID()
	aug := period.MustParse("2026-08")
	sep := period.MustParse("2026-09")

	for i := 0; i < 10; i++ {
		if _, ok, err := s.ReserveCredits(ctx, orgID, aug, 1, 10); err != nil || !ok {
			t.Fatalf("august reserve %d: ok=%v err=%v", i, ok, err)
		}
	}
	if _, ok, err := s.ReserveCredits(ctx, orgID, aug, 1, 10); err != nil || ok {
		t.Fatalf("august over limit: ok=%v err=%v", ok, err)
	}

	used, ok, err := s.ReserveCredits(ctx, orgID, sep, 1, 10)
	if err != nil || !ok {
		t.Fatalf("september reserve: ok=%v err=%v", ok, err)
	}
	if used != 1 {
		t.Fatalf("september used = %d, want 1", used)
	}
}
