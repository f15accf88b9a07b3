// Package billing defines the billing-period usage counter, the single
// mutable resource of the credit ledger.
package billing

import (
	"time"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
)

// Period is the usage counter for one (organization, calendar month) pair.
// Rows are created lazily on first reservation in a month with CreditsUsed
// zero, and there is at most one row per (org, key).
//
// All mutation of CreditsUsed goes through the store's atomic conditional
// update; the struct itself is a read snapshot.
type Period struct {
	ID          id.PeriodID `json:"id"`
	OrgID       id.OrgID    `json:"org_id"`
	Key         period.Key  `json:"key"`
	CreditsUsed int64       `json:"credits_used"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
