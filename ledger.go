package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	"github.com/brandforge/ledger/plugin"
	"github.com/brandforge/ledger/store"
	"github.com/brandforge/ledger/subscription"
	"github.com/brandforge/ledger/types"
)

// Ledger is the credit metering engine: it gates job admission on the
// organization's plan quota and records consumption atomically.
//
// The engine holds no mutable billing state in process. The billing period
// row in the store is the single mutable resource, and all mutation goes
// through the store's conditional update, so TryReserve/Release calls for
// one (org, period) key are linearizable.
type Ledger struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Period-key policy: the billing time zone is an explicit configuration
	// choice (default UTC). Unused credits expire at rollover; each month's
	// counter starts at zero.
	loc *time.Location
	now func() time.Time
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
		loc:     time.UTC,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithTimeZone sets the billing time zone used to derive the current
// period key. Defaults to UTC.
func WithTimeZone(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Start migrates the store and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if err := l.store.Migrate(ctx); err != nil {
		return err
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("ledger started", "time_zone", l.loc.String())

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.plugins.EmitShutdown(context.Background())

	return l.store.Close()
}

// ──────────────────────────────────────────────────
// Credit reservations
// ──────────────────────────────────────────────────

// DenialReason explains why a reservation was refused.
type DenialReason string

const (
	// ReasonQuotaExceeded: the plan's monthly credit ceiling is exhausted
	// for this period. Resolved by a plan change or period rollover.
	ReasonQuotaExceeded DenialReason = "quota_exceeded"

	// ReasonSubscriptionInactive: the organization has no subscription in
	// a status that authorizes usage. Resolved by the billing collaborator.
	ReasonSubscriptionInactive DenialReason = "subscription_inactive"
)

// Reservation is the outcome of a TryReserve call. Denial is an ordinary
// value, not an error: refused admission is an expected outcome.
type Reservation struct {
	Granted   bool         `json:"granted"`
	OrgID     id.OrgID     `json:"org_id"`
	Key       period.Key   `json:"key"`
	Amount    int64        `json:"amount"`
	Used      int64        `json:"used"`
	Limit     int64        `json:"limit"`
	Remaining int64        `json:"remaining"`
	Reason    DenialReason `json:"reason,omitempty"`
}

// Usage is a read-only snapshot of a billing period.
type Usage struct {
	OrgID id.OrgID   `json:"org_id"`
	Key   period.Key `json:"key"`
	Used  int64      `json:"used"`
	Limit int64      `json:"limit"`
}

// CurrentPeriod derives the period key for the present moment in the
// configured billing time zone.
func (l *Ledger) CurrentPeriod() period.Key {
	return period.KeyFor(l.now().In(l.loc))
}

// TryReserve atomically reserves amount credits for the organization in
// the given period. It reads the active subscription and plan, then asks
// the store to increment the period counter only if the result stays
// within the plan limit.
//
// Quota and subscription denials come back as a non-granted Reservation
// with a nil error and no counter mutation. A non-nil error means the
// store could not be consulted; the caller should retry with backoff and
// must never treat it as a grant.
func (l *Ledger) TryReserve(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (*Reservation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !key.Valid() {
		return nil, ErrInvalidPeriod
	}

	sub, err := l.store.GetActiveSubscription(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) || IsNotFound(err) {
			res := &Reservation{
				OrgID:  orgID,
				Key:    key,
				Amount: amount,
				Reason: ReasonSubscriptionInactive,
			}
			l.plugins.EmitReservationDenied(ctx, orgID, key, string(ReasonSubscriptionInactive))
			return res, nil
		}
		return nil, err
	}
	if !sub.AuthorizesUsage() {
		res := &Reservation{
			OrgID:  orgID,
			Key:    key,
			Amount: amount,
			Reason: ReasonSubscriptionInactive,
		}
		l.plugins.EmitReservationDenied(ctx, orgID, key, string(ReasonSubscriptionInactive))
		return res, nil
	}

	p, err := l.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	limit := p.MonthlyCredits

	used, ok, err := l.store.ReserveCredits(ctx, orgID, key, amount, limit)
	if err != nil {
		return nil, err
	}

	if !ok {
		res := &Reservation{
			OrgID:  orgID,
			Key:    key,
			Amount: amount,
			Used:   used,
			Limit:  limit,
			Reason: ReasonQuotaExceeded,
		}
		l.plugins.EmitQuotaExceeded(ctx, orgID, key, used, limit)
		l.plugins.EmitReservationDenied(ctx, orgID, key, string(ReasonQuotaExceeded))
		return res, nil
	}

	res := &Reservation{
		Granted:   true,
		OrgID:     orgID,
		Key:       key,
		Amount:    amount,
		Used:      used,
		Limit:     limit,
		Remaining: limit - used,
	}
	l.plugins.EmitReservationGranted(ctx, orgID, key, amount, res.Remaining)

	return res, nil
}

// ReserveOne reserves a single credit in the current period. This is the
// common job-intake path.
func (l *Ledger) ReserveOne(ctx context.Context, orgID id.OrgID) (*Reservation, error) {
	return l.TryReserve(ctx, orgID, l.CurrentPeriod(), 1)
}

// Release is the compensating decrement for a reservation whose downstream
// work failed after admission. The counter never goes below zero: a clamped
// release indicates a reservation/release mismatch upstream and is logged
// and emitted, not silently ignored.
//
// Callers that abandoned a TryReserve whose commit outcome is unknown must
// call Release anyway (at-least-once compensation); the clamp accounting
// here is what makes the resulting mismatches observable.
func (l *Ledger) Release(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !key.Valid() {
		return ErrInvalidPeriod
	}

	used, clamped, err := l.store.ReleaseCredits(ctx, orgID, key, amount)
	if err != nil {
		return err
	}

	if clamped {
		l.logger.Warn("anomalous release clamped at zero",
			"org_id", orgID.String(),
			"period", key.String(),
			"amount", amount,
			"used", used,
		)
		l.plugins.EmitAnomalousRelease(ctx, orgID, key, amount, used)
	}

	return nil
}

// GetUsage returns a {used, limit} snapshot for the period. It reflects
// all committed reservations; in-flight ones may or may not be visible.
// The limit comes from the active subscription's plan, so an organization
// without one gets ErrNoActiveSubscription.
func (l *Ledger) GetUsage(ctx context.Context, orgID id.OrgID, key period.Key) (*Usage, error) {
	if !key.Valid() {
		return nil, ErrInvalidPeriod
	}

	sub, err := l.store.GetActiveSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	p, err := l.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	u := &Usage{OrgID: orgID, Key: key, Limit: p.MonthlyCredits}

	per, err := l.store.GetPeriod(ctx, orgID, key)
	switch {
	case err == nil:
		u.Used = per.CreditsUsed
	case IsNotFound(err):
		// No usage recorded yet; the lazy row does not exist.
	default:
		return nil, err
	}

	return u, nil
}

// ──────────────────────────────────────────────────
// Organization management
// ──────────────────────────────────────────────────

// CreateOrganization registers a new tenant.
func (l *Ledger) CreateOrganization(ctx context.Context, o *org.Organization) error {
	if o.ID.IsNil() {
		o.ID = id.NewOrgID()
	}
	o.Entity = types.NewEntity()

	return l.store.CreateOrganization(ctx, o)
}

// GetOrganization retrieves an organization by ID.
func (l *Ledger) GetOrganization(ctx context.Context, orgID id.OrgID) (*org.Organization, error) {
	return l.store.GetOrganization(ctx, orgID)
}

// DeleteOrganization removes the tenant and cascades to all of its
// subscriptions, billing periods and audit entries.
func (l *Ledger) DeleteOrganization(ctx context.Context, orgID id.OrgID) error {
	return l.store.DeleteOrganization(ctx, orgID)
}

// ──────────────────────────────────────────────────
// Plan management
// ──────────────────────────────────────────────────

// CreatePlan creates a new catalog plan.
func (l *Ledger) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	p.Entity = types.NewEntity()

	return l.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (l *Ledger) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return l.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by slug.
func (l *Ledger) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return l.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists catalog plans.
func (l *Ledger) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return l.store.ListPlans(ctx, opts)
}

// ArchivePlan marks a plan archived. Existing subscriptions keep their
// limits; the plan stops being offered.
func (l *Ledger) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	return l.store.ArchivePlan(ctx, planID)
}

// ──────────────────────────────────────────────────
// Subscription management
// ──────────────────────────────────────────────────

// CreateSubscription creates the organization's subscription. There is at
// most one per organization; a second create fails.
func (l *Ledger) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	sub.Entity = types.NewEntity()

	if sub.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = l.now().AddDate(0, 1, 0)
	}

	return l.store.CreateSubscription(ctx, sub)
}

// GetSubscription retrieves a subscription by ID.
func (l *Ledger) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return l.store.GetSubscription(ctx, subID)
}

// GetActiveSubscription retrieves the organization's subscription if its
// status authorizes usage.
func (l *Ledger) GetActiveSubscription(ctx context.Context, orgID id.OrgID) (*subscription.Subscription, error) {
	return l.store.GetActiveSubscription(ctx, orgID)
}

// UpdateSubscription persists status/plan changes driven by the billing
// collaborator.
func (l *Ledger) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return l.store.UpdateSubscription(ctx, sub)
}

// CancelSubscription cancels a subscription.
func (l *Ledger) CancelSubscription(ctx context.Context, subID id.SubscriptionID, immediately bool) error {
	sub, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	cancelAt := sub.CurrentPeriodEnd
	if immediately {
		cancelAt = l.now()
	}

	return l.store.CancelSubscription(ctx, subID, cancelAt)
}
