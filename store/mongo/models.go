package mongo

import (
	"time"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/billing"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/org"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plan"
	"github.com/brandforge/ledger/subscription"
	"github.com/brandforge/ledger/types"
)

// ──────────────────────────────────────────────────────────────
// Organization models
// ──────────────────────────────────────────────────────────────

type orgModel struct {
	ID        string            `bson:"_id"`
	Name      string            `bson:"name"`
	Slug      string            `bson:"slug"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

func toOrgModel(o *org.Organization) *orgModel {
	return &orgModel{
		ID:        o.ID.String(),
		Name:      o.Name,
		Slug:      o.Slug,
		Metadata:  o.Metadata,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func fromOrgModel(m *orgModel) (*org.Organization, error) {
	orgID, err := id.ParseOrgID(m.ID)
	if err != nil {
		return nil, err
	}
	o := &org.Organization{
		ID:       orgID,
		Name:     m.Name,
		Slug:     m.Slug,
		Metadata: m.Metadata,
	}
	o.CreatedAt = m.CreatedAt
	o.UpdatedAt = m.UpdatedAt
	return o, nil
}

// ──────────────────────────────────────────────────────────────
// Plan models
// ──────────────────────────────────────────────────────────────

type planModel struct {
	ID             string            `bson:"_id"`
	Name           string            `bson:"name"`
	Slug           string            `bson:"slug"`
	Description    string            `bson:"description"`
	PriceCents     int64             `bson:"price_cents"`
	Currency       string            `bson:"currency"`
	MonthlyCredits int64             `bson:"monthly_credits"`
	Status         string            `bson:"status"`
	TrialDays      int               `bson:"trial_days"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:             p.ID.String(),
		Name:           p.Name,
		Slug:           p.Slug,
		Description:    p.Description,
		PriceCents:     p.Price.Amount,
		Currency:       p.Price.Currency,
		MonthlyCredits: p.MonthlyCredits,
		Status:         string(p.Status),
		TrialDays:      p.TrialDays,
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	p := &plan.Plan{
		ID:             planID,
		Name:           m.Name,
		Slug:           m.Slug,
		Description:    m.Description,
		Price:          types.Money{Amount: m.PriceCents, Currency: m.Currency},
		MonthlyCredits: m.MonthlyCredits,
		Status:         plan.Status(m.Status),
		TrialDays:      m.TrialDays,
		Metadata:       m.Metadata,
	}
	p.CreatedAt = m.CreatedAt
	p.UpdatedAt = m.UpdatedAt
	return p, nil
}

// ──────────────────────────────────────────────────────────────
// Subscription models
// ──────────────────────────────────────────────────────────────

type subscriptionModel struct {
	ID               string            `bson:"_id"`
	OrgID            string            `bson:"org_id"`
	PlanID           string            `bson:"plan_id"`
	Status           string            `bson:"status"`
	CurrentPeriodEnd time.Time         `bson:"current_period_end"`
	TrialStart       *time.Time        `bson:"trial_start,omitempty"`
	TrialEnd         *time.Time        `bson:"trial_end,omitempty"`
	CanceledAt       *time.Time        `bson:"canceled_at,omitempty"`
	CancelAt         *time.Time        `bson:"cancel_at,omitempty"`
	Metadata         map[string]string `bson:"metadata,omitempty"`
	CreatedAt        time.Time         `bson:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:               s.ID.String(),
		OrgID:            s.OrgID.String(),
		PlanID:           s.PlanID.String(),
		Status:           string(s.Status),
		CurrentPeriodEnd: s.CurrentPeriodEnd,
		TrialStart:       s.TrialStart,
		TrialEnd:         s.TrialEnd,
		CanceledAt:       s.CanceledAt,
		CancelAt:         s.CancelAt,
		Metadata:         s.Metadata,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	orgID, err := id.ParseOrgID(m.OrgID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	s := &subscription.Subscription{
		ID:               subID,
		OrgID:            orgID,
		PlanID:           planID,
		Status:           subscription.Status(m.Status),
		CurrentPeriodEnd: m.CurrentPeriodEnd,
		TrialStart:       m.TrialStart,
		TrialEnd:         m.TrialEnd,
		CanceledAt:       m.CanceledAt,
		CancelAt:         m.CancelAt,
		Metadata:         m.Metadata,
	}
	s.CreatedAt = m.CreatedAt
	s.UpdatedAt = m.UpdatedAt
	return s, nil
}

// ──────────────────────────────────────────────────────────────
// Billing period models
// ──────────────────────────────────────────────────────────────

type periodModel struct {
	ID          string    `bson:"_id"`
	OrgID       string    `bson:"org_id"`
	PeriodKey   string    `bson:"period_key"`
	CreditsUsed int64     `bson:"credits_used"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func fromPeriodModel(m *periodModel) (*billing.Period, error) {
	perID, err := id.ParsePeriodID(m.ID)
	if err != nil {
		return nil, err
	}
	orgID, err := id.ParseOrgID(m.OrgID)
	if err != nil {
		return nil, err
	}
	key, err := period.Parse(m.PeriodKey)
	if err != nil {
		return nil, err
	}
	return &billing.Period{
		ID:          perID,
		OrgID:       orgID,
		Key:         key,
		CreditsUsed: m.CreditsUsed,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

// ──────────────────────────────────────────────────────────────
// Audit entry models
// ──────────────────────────────────────────────────────────────

type auditEntryModel struct {
	ID         string         `bson:"_id"`
	OrgID      string         `bson:"org_id"`
	BrandKitID string         `bson:"brand_kit_id,omitempty"`
	AssetID    string         `bson:"asset_id,omitempty"`
	Action     string         `bson:"action"`
	Outcome    string         `bson:"outcome"`
	Payload    map[string]any `bson:"payload,omitempty"`
	Result     map[string]any `bson:"result,omitempty"`
	DurationMS *int64         `bson:"duration_ms,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

func toAuditEntryModel(e *audit.Entry) *auditEntryModel {
	m := &auditEntryModel{
		ID:         e.ID.String(),
		OrgID:      e.OrgID.String(),
		Action:     e.Action,
		Outcome:    string(e.Outcome),
		Payload:    e.Payload,
		Result:     e.Result,
		DurationMS: e.DurationMS,
		CreatedAt:  e.CreatedAt,
	}
	if !e.BrandKitID.IsNil() {
		m.BrandKitID = e.BrandKitID.String()
	}
	if !e.AssetID.IsNil() {
		m.AssetID = e.AssetID.String()
	}
	return m
}

func fromAuditEntryModel(m *auditEntryModel) (*audit.Entry, error) {
	entryID, err := id.ParseAuditEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	orgID, err := id.ParseOrgID(m.OrgID)
	if err != nil {
		return nil, err
	}
	e := &audit.Entry{
		ID:         entryID,
		OrgID:      orgID,
		Action:     m.Action,
		Outcome:    audit.Outcome(m.Outcome),
		Payload:    types.Document(m.Payload),
		Result:     types.Document(m.Result),
		DurationMS: m.DurationMS,
		CreatedAt:  m.CreatedAt,
	}
	if m.BrandKitID != "" {
		if e.BrandKitID, err = id.ParseBrandKitID(m.BrandKitID); err != nil {
			return nil, err
		}
	}
	if m.AssetID != "" {
		if e.AssetID, err = id.ParseAssetID(m.AssetID); err != nil {
			return nil, err
		}
	}
	return e, nil
}
