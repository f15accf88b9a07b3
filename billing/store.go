package billing

import (
	"context"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
)

// Store is the persistence contract for billing periods.
//
// Reserve is the load-bearing primitive: it must be a single conditional
// write ("increment only if the result stays within limit") scoped to the
// (org, key) row, so that concurrent reservations against the same period
// can never jointly overshoot the limit. Implementations must not realize
// it as a separate read followed by a write.
type Store interface {
	// Reserve lazily creates the (org, key) row and atomically increments
	// CreditsUsed by amount if the result would not exceed limit. It
	// returns the post-operation counter and whether the increment was
	// applied. A false return means the counter was left untouched.
	Reserve(ctx context.Context, orgID id.OrgID, key period.Key, amount, limit int64) (used int64, ok bool, err error)

	// Release atomically decrements CreditsUsed by amount, clamping at
	// zero. clamped reports that the full decrement could not be applied,
	// which indicates a reservation/release mismatch upstream.
	Release(ctx context.Context, orgID id.OrgID, key period.Key, amount int64) (used int64, clamped bool, err error)

	// Get returns the period row, or a not-found error if no usage has
	// been recorded for (org, key) yet.
	Get(ctx context.Context, orgID id.OrgID, key period.Key) (*Period, error)
}
