// Package store defines the unified storage interface consumed by the
// credit ledger and audit recorder, with memory, postgres, sqlite and
// mongo implementations in subpackages.
package store

import (
	"context"
	"time"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/billing"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	"github.com/brandforge/ledger/subscription"
)

// Store is the unified storage interface for all Ledger entities.
// Instead of embedding the per-package sub-interfaces, all methods are
// declared explicitly to avoid naming conflicts.
//
// ReserveCredits is the concurrency-critical method: it must be realized
// as one conditional write against the (org, period) row so concurrent
// reservations serialize in the store, never as application-level
// read-then-write.
type Store interface {
	// Organization methods
	CreateOrganization(ctx context.Context, o *org.Organization) error
	GetOrganization(ctx context.Context, orgID id.OrgID) (*org.Organization, error)
	// DeleteOrganization cascades to the org's subscriptions, billing
	// periods and audit entries.
	DeleteOrganization(ctx context.Context, orgID id.OrgID) error

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetActiveSubscription(ctx context.Context, orgID id.OrgID) (*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, cancelAt time.Time) error

	// Billing period methods
	ReserveCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (used int64, ok bool, err error)
	ReleaseCredits(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (used int64, clamped bool, err error)
	GetPeriod(ctx context.Context, orgID id.OrgID, key period.Key) (*billing.Period, error)

	// Audit methods
	AppendAuditEntry(ctx context.Context, e *audit.Entry) error
	ListAuditEntries(ctx context.Context, orgID id.OrgID, opts audit.QueryOpts) ([]*audit.Entry, error)
	DetachAuditReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
