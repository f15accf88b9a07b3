package subscription

import (
	"time"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Subscription links an organization to a plan. There is at most one
// subscription per organization. Status transitions are driven by the
// external billing collaborator; the credit ledger only reads them.
type Subscription struct {
	types.Entity
	ID               id.SubscriptionID `json:"id"`
	OrgID            id.OrgID          `json:"org_id"`
	PlanID           id.PlanID         `json:"plan_id"`
	Status           Status            `json:"status"`
	CurrentPeriodEnd time.Time         `json:"current_period_end"`
	TrialStart       *time.Time        `json:"trial_start,omitempty"`
	TrialEnd         *time.Time        `json:"trial_end,omitempty"`
	CanceledAt       *time.Time        `json:"canceled_at,omitempty"`
	CancelAt         *time.Time        `json:"cancel_at,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// AuthorizesUsage reports whether the subscription status permits credit
// reservations. Only active and trialing subscriptions do; past_due and
// canceled block new work.
func (s *Subscription) AuthorizesUsage() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}
