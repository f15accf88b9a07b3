package plan

import (
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan is a static catalog entry: price plus the monthly generation-credit
// ceiling that the credit ledger enforces. Plans are read-only from the
// ledger's perspective; the platform's control plane manages the catalog.
type Plan struct {
	types.Entity
	ID             id.PlanID         `json:"id"`
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	Description    string            `json:"description"`
	Price          types.Money       `json:"price"`
	MonthlyCredits int64             `json:"monthly_credits"`
	Status         Status            `json:"status"`
	TrialDays      int               `json:"trial_days"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks the catalog invariants for a plan.
func (p *Plan) Validate() error {
	if p.Name == "" {
		return errEmptyName
	}
	if p.MonthlyCredits <= 0 {
		return errNonPositiveCredits
	}
	return nil
}
