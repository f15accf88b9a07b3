package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/store/memory"
	"github.com/brandforge/ledger/types"
)

// flakyStore fails the first failures audit appends, then recovers.
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) AppendAuditEntry(ctx context.Context, e *audit.Entry) error {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()

	if fail {
		return errors.New("store unavailable")
	}
	return s.Store.AppendAuditEntry(ctx, e)
}

func TestCompleteWritesOneEntry(t *testing.T) {
	r := ledger.NewRecorder(memory.New())
	ctx := context.Background()
	orgID := id.NewOrgID()
	kitID := id.NewBrandKitID()

	h := r.BeginAction(orgID, audit.ActionRender,
		types.Doc("prompt", "minimalist logo", "format", "svg"),
		ledger.WithBrandKit(kitID),
	)
	entry, err := r.Complete(ctx, h, types.Doc("asset_count", 3))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if entry.Outcome != audit.OutcomeCompleted {
		t.Errorf("outcome = %q", entry.Outcome)
	}
	if entry.DurationMS == nil {
		t.Fatal("duration missing on completed entry")
	}
	if entry.Payload.String("prompt") != "minimalist logo" {
		t.Errorf("payload = %v", entry.Payload)
	}
	if entry.BrandKitID.String() != kitID.String() {
		t.Errorf("brand kit = %s", entry.BrandKitID)
	}

	got, err := r.Entries(ctx, orgID, audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
}

func TestFailRecordsErrorResult(t *testing.T) {
	r := ledger.NewRecorder(memory.New())
	ctx := context.Background()
	orgID := id.NewOrgID()

	h := r.BeginAction(orgID, audit.ActionValidate, types.Doc("asset", "logo.svg"))
	entry, err := r.Fail(ctx, h, "contrast ratio below threshold")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}

	if entry.Outcome != audit.OutcomeFailed {
		t.Errorf("outcome = %q", entry.Outcome)
	}
	if entry.Result.String("error") != "contrast ratio below threshold" {
		t.Errorf("result = %v", entry.Result)
	}
	if entry.DurationMS == nil {
		t.Error("duration missing on failed entry")
	}
}

func TestDuplicateCompletionRejected(t *testing.T) {
	r := ledger.NewRecorder(memory.New())
	ctx := context.Background()
	orgID := id.NewOrgID()

	h := r.BeginAction(orgID, audit.ActionPlan, nil)
	if _, err := r.Complete(ctx, h, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Fail(ctx, h, "too late"); !errors.Is(err, ledger.ErrDuplicateCompletion) {
		t.Fatalf("second terminal call: err = %v, want ErrDuplicateCompletion", err)
	}
	if _, err := r.Complete(ctx, h, nil); !errors.Is(err, ledger.ErrDuplicateCompletion) {
		t.Fatalf("third terminal call: err = %v, want ErrDuplicateCompletion", err)
	}

	got, err := r.Entries(ctx, orgID, audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want exactly 1", len(got))
	}
}

func TestDurationFromInjectedClock(t *testing.T) {
	current := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	r := ledger.NewRecorder(memory.New(), ledger.WithRecorderClock(clock))
	orgID := id.NewOrgID()

	h := r.BeginAction(orgID, audit.ActionRegenerate, nil)
	advance(1500 * time.Millisecond)

	entry, err := r.Complete(context.Background(), h, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry.DurationMS == nil || *entry.DurationMS != 1500 {
		t.Fatalf("duration = %v, want 1500", entry.DurationMS)
	}
}

func TestAppendRetriesTransientFailure(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), failures: 2}
	r := ledger.NewRecorder(fs,
		ledger.WithWriteRetry(3, time.Millisecond),
	)
	ctx := context.Background()
	orgID := id.NewOrgID()

	h := r.BeginAction(orgID, audit.ActionRender, nil)
	if _, err := r.Complete(ctx, h, nil); err != nil {
		t.Fatalf("complete despite transient failures: %v", err)
	}

	got, err := r.Entries(ctx, orgID, audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
}

func TestExhaustedRetriesSurfaceAndHandleStaysOpen(t *testing.T) {
	fs := &flakyStore{Store: memory.New(), failures: 3}
	r := ledger.NewRecorder(fs,
		ledger.WithWriteRetry(3, time.Millisecond),
	)
	ctx := context.Background()
	orgID := id.NewOrgID()

	h := r.BeginAction(orgID, audit.ActionRender, nil)
	_, err := r.Complete(ctx, h, nil)
	if !errors.Is(err, ledger.ErrAuditWriteFailed) {
		t.Fatalf("err = %v, want ErrAuditWriteFailed", err)
	}

	// The store has recovered; the handle is still open so the caller can
	// retry the terminal call.
	if _, err := r.Complete(ctx, h, nil); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}

	got, err := r.Entries(ctx, orgID, audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1", len(got))
	}
}

func TestSweeperRecordsAbandonedActions(t *testing.T) {
	r := ledger.NewRecorder(memory.New(),
		ledger.WithAbandonWindow(100*time.Millisecond),
	)
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	orgID := id.NewOrgID()
	h := r.BeginAction(orgID, audit.ActionRender, types.Doc("prompt", "banner"))

	var entries []*audit.Entry
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		entries, err = r.Entries(ctx, orgID, audit.QueryOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if len(entries) != 1 {
		t.Fatalf("abandoned entry not swept within deadline")
	}
	e := entries[0]
	if e.Outcome != audit.OutcomeAbandoned {
		t.Errorf("outcome = %q", e.Outcome)
	}
	if e.DurationMS != nil {
		t.Error("abandoned entry carries a duration")
	}
	if e.Payload.String("prompt") != "banner" {
		t.Errorf("payload = %v", e.Payload)
	}

	// The handle refuses terminal calls after the sweep.
	if _, err := r.Complete(ctx, h, nil); !errors.Is(err, ledger.ErrHandleAbandoned) {
		t.Fatalf("terminal after sweep: err = %v, want ErrHandleAbandoned", err)
	}
}

func TestEntriesFilteredByAction(t *testing.T) {
	r := ledger.NewRecorder(memory.New())
	ctx := context.Background()
	orgID := id.NewOrgID()

	for _, action := range []string{audit.ActionPlan, audit.ActionRender, audit.ActionRender} {
		h := r.BeginAction(orgID, action, nil)
		if _, err := r.Complete(ctx, h, nil); err != nil {
			t.Fatal(err)
		}
	}

	renders, err := r.Entries(ctx, orgID, audit.QueryOpts{Action: audit.ActionRender})
	if err != nil {
		t.Fatal(err)
	}
	if len(renders) != 2 {
		t.Fatalf("renders = %d, want 2", len(renders))
	}
}

func TestDetachReferences(t *testing.T) {
	r := ledger.NewRecorder(memory.New())
	ctx := context.Background()
	orgID := id.NewOrgID()
	kitID := id.NewBrandKitID()

	h := r.BeginAction(orgID, audit.ActionRender, nil, ledger.WithBrandKit(kitID))
	if _, err := r.Complete(ctx, h, nil); err != nil {
		t.Fatal(err)
	}

	n, err := r.DetachReferences(ctx, orgID, kitID, id.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("detached = %d, want 1", n)
	}

	got, err := r.Entries(ctx, orgID, audit.QueryOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].BrandKitID.IsNil() {
		t.Fatal("entry should survive with brand kit reference cleared")
	}
}
