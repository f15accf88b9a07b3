package org

import (
	"context"

	"github.com/brandforge/ledger/id"
)

// Store is the persistence contract for organizations.
type Store interface {
	Create(ctx context.Context, o *Organization) error
	Get(ctx context.Context, orgID id.OrgID) (*Organization, error)
	// Delete removes the organization and cascades to its billing
	// periods, subscriptions and audit entries.
	Delete(ctx context.Context, orgID id.OrgID) error
}
