package audit

import (
	"context"
	"time"

	"github.com/brandforge/ledger/id"
)

// Store is the persistence contract for audit entries. Entries are
// write-once: there is no update or single-row delete operation, and
// implementations must not provide one. Rows disappear only through the
// organization cascade.
type Store interface {
	// Append persists one entry. The entry's ID must be set by the caller.
	Append(ctx context.Context, e *Entry) error

	// List returns the organization's entries, newest first. The caller is
	// trusted to have already authorized access to orgID; the store only
	// ever filters by the given organization.
	List(ctx context.Context, orgID id.OrgID, opts QueryOpts) ([]*Entry, error)

	// DetachReferences nulls dangling brand-kit/asset references after the
	// referent has been deleted, leaving the entries themselves intact.
	// Either reference ID may be nil to skip it. Returns the number of
	// entries touched.
	DetachReferences(ctx context.Context, orgID id.OrgID, brandKitID id.BrandKitID, assetID id.AssetID) (int64, error)
}

// QueryOpts filters a List call.
type QueryOpts struct {
	Action  string
	Outcome Outcome
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}
