package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	"github.com/brandforge/ledger/store/memory"
	"github.com/brandforge/ledger/subscription"
	"github.com/brandforge/ledger/types"
)

// capturePlugin records every ledger hook invocation for assertions.
type capturePlugin struct {
	mu        sync.Mutex
	granted   int
	denied    []string
	quota     int
	anomalous int
}

func (p *capturePlugin) Name() string { return "capture" }

func (p *capturePlugin) OnReservationGranted(_ context.Context, _ id.OrgID, _ period.Key, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted++
	return nil
}

func (p *capturePlugin) OnReservationDenied(_ context.Context, _ id.OrgID, _ period.Key, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = append(p.denied, reason)
	return nil
}

func (p *capturePlugin) OnQuotaExceeded(_ context.Context, _ id.OrgID, _ period.Key, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quota++
	return nil
}

func (p *capturePlugin) OnAnomalousRelease(_ context.Context, _ id.OrgID, _ period.Key, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anomalous++
	return nil
}

// newTestLedger builds a ledger over the memory store with one tenant on
// a 10-credit plan.
func newTestLedger(t *testing.T, opts ...ledger.Option) (*ledger.Ledger, id.OrgID) {
	t.Helper()
	ctx := context.Background()

	l := ledger.New(memory.New(), opts...)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	o := &org.Organization{Name: "Acme Co", Slug: "acme"}
	if err := l.CreateOrganization(ctx, o); err != nil {
		t.Fatalf("create org: %v", err)
	}

	p := &plan.Plan{
		Name:           "Starter",
		Slug:           "starter",
		Price:          types.USD(1900),
		MonthlyCredits: 10,
		Status:         plan.StatusActive,
	}
	if err := l.CreatePlan(ctx, p); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	sub := &subscription.Subscription{
		OrgID:  o.ID,
		PlanID: p.ID,
		Status: subscription.StatusActive,
	}
	if err := l.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	return l, o.ID
}

func TestReserveUntilExhaustion(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()
	key := l.CurrentPeriod()

	for i := 0; i < 10; i++ {
		res, err := l.TryReserve(ctx, orgID, key, 1)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !res.Granted {
			t.Fatalf("reserve %d denied: %s", i, res.Reason)
		}
		if res.Used != int64(i+1) {
			t.Errorf("reserve %d: used = %d, want %d", i, res.Used, i+1)
		}
		if res.Remaining != int64(10-i-1) {
			t.Errorf("reserve %d: remaining = %d, want %d", i, res.Remaining, 10-i-1)
		}
	}

	res, err := l.TryReserve(ctx, orgID, key, 1)
	if err != nil {
		t.Fatalf("11th reserve: %v", err)
	}
	if res.Granted {
		t.Fatal("11th reserve granted, want quota denial")
	}
	if res.Reason != ledger.ReasonQuotaExceeded {
		t.Errorf("reason = %q, want %q", res.Reason, ledger.ReasonQuotaExceeded)
	}
	if res.Used != 10 {
		t.Errorf("used after denial = %d, want 10", res.Used)
	}
}

func TestConcurrentBurstGrantsExactlyLimit(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()
	key := l.CurrentPeriod()

	const workers = 50

	var granted, denied int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := l.TryReserve(ctx, orgID, key, 1)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			mu.Lock()
			if res.Granted {
				granted++
			} else {
				denied++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if granted != 10 {
		t.Errorf("granted = %d, want exactly 10", granted)
	}
	if denied != workers-10 {
		t.Errorf("denied = %d, want %d", denied, workers-10)
	}

	u, err := l.GetUsage(ctx, orgID, key)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if u.Used != 10 {
		t.Errorf("usage = %d, want 10", u.Used)
	}
}

func TestInactiveSubscriptionDenies(t *testing.T) {
	capture := &capturePlugin{}
	l, orgID := newTestLedger(t, ledger.WithPlugin(capture))
	ctx := context.Background()

	sub, err := l.GetActiveSubscription(ctx, orgID)
	if err != nil {
		t.Fatal(err)
	}
	sub.Status = subscription.StatusPastDue
	if err := l.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	res, err := l.ReserveOne(ctx, orgID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Granted {
		t.Fatal("granted with past_due subscription")
	}
	if res.Reason != ledger.ReasonSubscriptionInactive {
		t.Errorf("reason = %q, want %q", res.Reason, ledger.ReasonSubscriptionInactive)
	}
	if len(capture.denied) != 1 || capture.denied[0] != string(ledger.ReasonSubscriptionInactive) {
		t.Errorf("denied hooks = %v", capture.denied)
	}

	// Trialing authorizes usage again.
	sub.Status = subscription.StatusTrialing
	if err := l.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	res, err = l.ReserveOne(ctx, orgID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted {
		t.Fatalf("trialing reserve denied: %s", res.Reason)
	}
}

func TestMissingSubscriptionDenies(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	stranger := &org.Organization{Name: "Stray", Slug: "stray"}
	if err := l.CreateOrganization(ctx, stranger); err != nil {
		t.Fatal(err)
	}

	res, err := l.ReserveOne(ctx, stranger.ID)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Granted || res.Reason != ledger.ReasonSubscriptionInactive {
		t.Fatalf("granted = %v reason = %q", res.Granted, res.Reason)
	}
}

func TestPeriodsRollOverIndependently(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()

	aug := period.MustParse("2026-08")
	sep := aug.Next()

	if _, err := l.TryReserve(ctx, orgID, aug, 10); err != nil {
		t.Fatal(err)
	}
	res, err := l.TryReserve(ctx, orgID, aug, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted {
		t.Fatal("august reserve granted after exhaustion")
	}

	// New month, fresh counter. Unused credits do not carry over either
	// direction.
	res, err = l.TryReserve(ctx, orgID, sep, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted || res.Used != 1 {
		t.Fatalf("september: granted = %v used = %d", res.Granted, res.Used)
	}

	u, err := l.GetUsage(ctx, orgID, aug)
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 10 {
		t.Errorf("august usage = %d, want 10", u.Used)
	}
}

func TestReleaseRestoresCredits(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()
	key := l.CurrentPeriod()

	if _, err := l.TryReserve(ctx, orgID, key, 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(ctx, orgID, key, 3); err != nil {
		t.Fatal(err)
	}

	res, err := l.TryReserve(ctx, orgID, key, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Granted {
		t.Fatalf("reserve after release denied: %s", res.Reason)
	}
	if res.Used != 10 {
		t.Errorf("used = %d, want 10", res.Used)
	}
}

func TestAnomalousReleaseIsClampedAndEmitted(t *testing.T) {
	capture := &capturePlugin{}
	l, orgID := newTestLedger(t, ledger.WithPlugin(capture))
	ctx := context.Background()
	key := l.CurrentPeriod()

	if _, err := l.TryReserve(ctx, orgID, key, 2); err != nil {
		t.Fatal(err)
	}
	// Releasing more than was reserved clamps at zero; the call still
	// succeeds because over-release is an upstream accounting mismatch,
	// not a caller-visible failure.
	if err := l.Release(ctx, orgID, key, 5); err != nil {
		t.Fatalf("release: %v", err)
	}

	u, err := l.GetUsage(ctx, orgID, key)
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 0 {
		t.Errorf("used = %d, want 0", u.Used)
	}
	if capture.anomalous != 1 {
		t.Errorf("anomalous release hooks = %d, want 1", capture.anomalous)
	}
}

func TestQuotaExceededHook(t *testing.T) {
	capture := &capturePlugin{}
	l, orgID := newTestLedger(t, ledger.WithPlugin(capture))
	ctx := context.Background()
	key := l.CurrentPeriod()

	if _, err := l.TryReserve(ctx, orgID, key, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryReserve(ctx, orgID, key, 1); err != nil {
		t.Fatal(err)
	}

	if capture.quota != 1 {
		t.Errorf("quota hooks = %d, want 1", capture.quota)
	}
	if capture.granted != 1 {
		t.Errorf("granted hooks = %d, want 1", capture.granted)
	}
}

func TestReserveValidation(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.TryReserve(ctx, orgID, l.CurrentPeriod(), 0); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v", err)
	}
	if _, err := l.TryReserve(ctx, orgID, l.CurrentPeriod(), -5); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("negative amount: err = %v", err)
	}
	if _, err := l.TryReserve(ctx, orgID, period.Key(""), 1); !errors.Is(err, ledger.ErrInvalidPeriod) {
		t.Errorf("empty key: err = %v", err)
	}
	if err := l.Release(ctx, orgID, l.CurrentPeriod(), 0); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero release: err = %v", err)
	}
}

func TestGetUsageWithoutSubscription(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	stranger := &org.Organization{Name: "Stray", Slug: "stray"}
	if err := l.CreateOrganization(ctx, stranger); err != nil {
		t.Fatal(err)
	}

	_, err := l.GetUsage(ctx, stranger.ID, l.CurrentPeriod())
	if !errors.Is(err, ledger.ErrNoActiveSubscription) {
		t.Fatalf("err = %v, want ErrNoActiveSubscription", err)
	}
}

func TestGetUsageBeforeFirstReservation(t *testing.T) {
	l, orgID := newTestLedger(t)

	u, err := l.GetUsage(context.Background(), orgID, l.CurrentPeriod())
	if err != nil {
		t.Fatal(err)
	}
	if u.Used != 0 || u.Limit != 10 {
		t.Errorf("used = %d limit = %d, want 0 and 10", u.Used, u.Limit)
	}
}

func TestCurrentPeriodUsesBillingTimeZone(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// 2026-09-01 03:30 UTC is still Aug 31 in Los Angeles.
	instant := time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC)
	clock := func() time.Time { return instant }

	utcLedger := ledger.New(memory.New(), ledger.WithClock(clock))
	if got := utcLedger.CurrentPeriod(); got.String() != "2026-09" {
		t.Errorf("UTC period = %s, want 2026-09", got)
	}

	laLedger := ledger.New(memory.New(), ledger.WithClock(clock), ledger.WithTimeZone(la))
	if got := laLedger.CurrentPeriod(); got.String() != "2026-08" {
		t.Errorf("LA period = %s, want 2026-08", got)
	}
}

func TestCancelSubscriptionImmediately(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()

	sub, err := l.GetActiveSubscription(ctx, orgID)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.CancelSubscription(ctx, sub.ID, true); err != nil {
		t.Fatal(err)
	}

	res, err := l.ReserveOne(ctx, orgID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Granted {
		t.Fatal("granted after immediate cancel")
	}
	if res.Reason != ledger.ReasonSubscriptionInactive {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestCreatePlanValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	bad := &plan.Plan{Slug: "nameless", MonthlyCredits: 10, Status: plan.StatusActive}
	if err := l.CreatePlan(ctx, bad); err == nil {
		t.Error("plan without name accepted")
	}

	bad = &plan.Plan{Name: "Zero", Slug: "zero", MonthlyCredits: 0, Status: plan.StatusActive}
	if err := l.CreatePlan(ctx, bad); err == nil {
		t.Error("plan with zero credits accepted")
	}
}

func TestSecondSubscriptionRejected(t *testing.T) {
	l, orgID := newTestLedger(t)
	ctx := context.Background()

	p, err := l.GetPlanBySlug(ctx, "starter")
	if err != nil {
		t.Fatal(err)
	}
	dup := &subscription.Subscription{
		OrgID:  orgID,
		PlanID: p.ID,
		Status: subscription.StatusActive,
	}
	if err := l.CreateSubscription(ctx, dup); !errors.Is(err, ledger.ErrSubscriptionExists) {
		t.Fatalf("err = %v, want ErrSubscriptionExists", err)
	}
}
