package ledger_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/observability"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/plan"
	"github.com/brandforge/ledger/store/memory"
	"github.com/brandforge/ledger/subscription"
	"github.com/brandforge/ledger/types"
)

// TestDocumentationExamples verifies that the examples in the package
// documentation compile and run.
func TestDocumentationExamples(t *testing.T) {
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the ledger
		l := ledger.New(store,
			ledger.WithLogger(slog.Default()),
		)

		ctx := context.Background()
		if err := l.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer l.Stop() //nolint:errcheck

		// Register the tenant
		o := &org.Organization{Name: "Acme Co", Slug: "acme"}
		if err := l.CreateOrganization(ctx, o); err != nil {
			t.Fatal(err)
		}

		// Create a plan
		p := &plan.Plan{
			Name:           "Pro Plan",
			Slug:           "pro",
			Price:          types.USD(4900), // $49.00
			MonthlyCredits: 200,
			Status:         plan.StatusActive,
		}
		if err := l.CreatePlan(ctx, p); err != nil {
			t.Fatal(err)
		}

		// Subscribe the tenant
		sub := &subscription.Subscription{
			OrgID:  o.ID,
			PlanID: p.ID,
			Status: subscription.StatusActive,
		}
		if err := l.CreateSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}

		// Admit a generation job
		res, err := l.ReserveOne(ctx, o.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Granted {
			t.Fatalf("reservation denied: %s", res.Reason)
		}

		// Roll back after a failed job
		if err := l.Release(ctx, o.ID, res.Key, res.Amount); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("RecorderExample", func(t *testing.T) {
		store := memory.New()
		ctx := context.Background()

		r := ledger.NewRecorder(store,
			ledger.WithRecorderLogger(slog.Default()),
			ledger.WithWriteRetry(3, 100*time.Millisecond),
		)
		if err := r.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer r.Stop()

		orgID := id.NewOrgID()

		// Record an agent decision around the work it gates.
		h := r.BeginAction(orgID, audit.ActionRender,
			types.Doc("prompt", "warm palette banner"))
		if _, err := r.Complete(ctx, h, types.Doc("asset_count", 2)); err != nil {
			t.Fatal(err)
		}

		entries, err := r.Entries(ctx, orgID, audit.QueryOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1", len(entries))
		}
	})

	t.Run("MetricsExample", func(t *testing.T) {
		factory := docsFactory{}
		metrics := observability.NewMetricsExtension(factory)

		l := ledger.New(memory.New(), ledger.WithPlugin(metrics))
		if err := l.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		defer l.Stop() //nolint:errcheck
	})
}

// docsFactory is a throwaway MetricFactory for the metrics example.
type docsFactory struct{}

func (docsFactory) Counter(string) observability.Counter     { return nopCounter{} }
func (docsFactory) Histogram(string) observability.Histogram { return nopHistogram{} }

type nopCounter struct{}

func (nopCounter) Inc()        {}
func (nopCounter) Add(float64) {}

type nopHistogram struct{}

func (nopHistogram) Observe(float64) {}
