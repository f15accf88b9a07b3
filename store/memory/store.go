// Package memory provides an in-memory Store implementation. It is the
// reference implementation for tests and single-process deployments; the
// mutex stands in for the conditional-write primitive of the durable
// backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brandforge/ledger"
	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/billing"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	ledgerstore "github.com/brandforge/ledger/store"
	"github.com/brandforge/ledger/subscription"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

type periodKey struct {
	orgID string
	key   period.Key
}

type Store struct {
	mu sync.RWMutex

	orgs          map[string]*org.Organization
	plans         map[string]*plan.Plan
	subscriptions map[string]*subscription.Subscription // keyed by org ID (singleton per org)
	periods       map[periodKey]*billing.Period
	auditEntries  []*audit.Entry
}

func New() *Store {
	return &Store{
		orgs:          make(map[string]*org.Organization),
		plans:         make(map[string]*plan.Plan),
		subscriptions: make(map[string]*subscription.Subscription),
		periods:       make(map[periodKey]*billing.Period),
		auditEntries:  make([]*audit.Entry, 0),
	}
}

// Organization store implementation

func (s *Store) CreateOrganization(_ context.Context, o *org.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orgs[o.ID.String()]; exists {
		return ledger.ErrAlreadyExists
	}
	snapshot := *o
	s.orgs[o.ID.String()] = &snapshot
	return nil
}

func (s *Store) GetOrganization(_ context.Context, orgID id.OrgID) (*org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.orgs[orgID.String()]; ok {
		snapshot := *o
		return &snapshot, nil
	}
	return nil, ledger.ErrOrgNotFound
}

func (s *Store) DeleteOrganization(_ context.Context, orgID id.OrgID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[orgID.String()]; !ok {
		return ledger.ErrOrgNotFound
	}
	delete(s.orgs, orgID.String())

	// Tenant cascade: subscriptions, billing periods and audit entries go
	// with the organization.
	delete(s.subscriptions, orgID.String())
	for pk := range s.periods {
		if pk.orgID == orgID.String() {
			delete(s.periods, pk)
		}
	}
	kept := s.auditEntries[:0]
	for _, e := range s.auditEntries {
		if e.OrgID.String() != orgID.String() {
			kept = append(kept, e)
		}
	}
	s.auditEntries = kept

	return nil
}

// Plan store implementation

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return ledger.ErrAlreadyExists
	}
	snapshot := *p
	s.plans[p.ID.String()] = &snapshot
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		snapshot := *p
		return &snapshot, nil
	}
	return nil, ledger.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			snapshot := *p
			return &snapshot, nil
		}
	}
	return nil, ledger.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			snapshot := *p
			result = append(result, &snapshot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return ledger.ErrPlanNotFound
	}
	snapshot := *p
	s.plans[p.ID.String()] = &snapshot
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Status = plan.StatusArchived
		return nil
	}
	return ledger.ErrPlanNotFound
}

// Subscription store implementation

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.OrgID.String()]; exists {
		return ledger.ErrSubscriptionExists
	}
	snapshot := *sub
	s.subscriptions[sub.OrgID.String()] = &snapshot
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ID.String() == subID.String() {
			snapshot := *sub
			return &snapshot, nil
		}
	}
	return nil, ledger.ErrSubscriptionNotFound
}

func (s *Store) GetActiveSubscription(_ context.Context, orgID id.OrgID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[orgID.String()]
	if !ok || !sub.AuthorizesUsage() {
		return nil, ledger.ErrNoActiveSubscription
	}
	snapshot := *sub
	return &snapshot, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.OrgID.String()]; !exists {
		return ledger.ErrSubscriptionNotFound
	}
	snapshot := *sub
	s.subscriptions[sub.OrgID.String()] = &snapshot
	return nil
}

func (s *Store) CancelSubscription(_ context.Context, subID id.SubscriptionID, cancelAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.ID.String() == subID.String() {
			sub.CancelAt = &cancelAt
			if !time.Now().Before(cancelAt) {
				sub.Status = subscription.StatusCanceled
				now := time.Now()
				sub.CanceledAt = &now
			}
			return nil
		}
	}
	return ledger.ErrSubscriptionNotFound
}

// Billing period store implementation

func (s *Store) ReserveCredits(_ context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := periodKey{orgID: orgID.String(), key: key}
	per, ok := s.periods[pk]
	if !ok {
		per = &billing.Period{
			ID:        id.NewPeriodID(),
			OrgID:     orgID,
			Key:       key,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		s.periods[pk] = per
	}

	if per.CreditsUsed+amount > limit {
		return per.CreditsUsed, false, nil
	}

	per.CreditsUsed += amount
	per.UpdatedAt = time.Now().UTC()
	return per.CreditsUsed, true, nil
}

func (s *Store) ReleaseCredits(_ context.Context, orgID id.OrgID, key period.Key, amount int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := periodKey{orgID: orgID.String(), key: key}
	per, ok := s.periods[pk]
	if !ok {
		// Releasing against a period with no usage row is the fully
		// clamped case: nothing was ever reserved.
		return 0, true, nil
	}

	clamped := per.CreditsUsed < amount
	per.CreditsUsed -= amount
	if per.CreditsUsed < 0 {
		per.CreditsUsed = 0
	}
	per.UpdatedAt = time.Now().UTC()
	return per.CreditsUsed, clamped, nil
}

func (s *Store) GetPeriod(_ context.Context, orgID id.OrgID, key period.Key) (*billing.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if per, ok := s.periods[periodKey{orgID: orgID.String(), key: key}]; ok {
		snapshot := *per
		return &snapshot, nil
	}
	return nil, ledger.ErrPeriodNotFound
}

// Audit store implementation

func (s *Store) AppendAuditEntry(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.auditEntries {
		if existing.ID.String() == e.ID.String() {
			return ledger.ErrAlreadyExists
		}
	}
	snapshot := *e
	s.auditEntries = append(s.auditEntries, &snapshot)
	return nil
}

func (s *Store) ListAuditEntries(_ context.Context, orgID id.OrgID, opts audit.QueryOpts) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Entry, 0)
	for _, e := range s.auditEntries {
		if e.OrgID.String() != orgID.String() {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		if opts.Outcome != "" && e.Outcome != opts.Outcome {
			continue
		}
		if !opts.Since.IsZero() && e.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.CreatedAt.After(opts.Until) {
			continue
		}
		snapshot := *e
		result = append(result, &snapshot)
	}

	// Newest first.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) DetachAuditReferences(_ context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.auditEntries {
		if e.OrgID.String() != orgID.String() {
			continue
		}
		touched := false
		if !brandKitID.IsNil() && e.BrandKitID.String() == brandKitID.String() {
			e.BrandKitID = id.Nil
			touched = true
		}
		if !assetID.IsNil() && e.AssetID.String() == assetID.String() {
			e.AssetID = id.Nil
			touched = true
		}
		if touched {
			count++
		}
	}
	return count, nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
