// Package org defines the organization model, the tenant boundary for
// all billing and audit state.
package org

import (
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/types"
)

// Organization is the billing and access-isolation boundary. Every billing
// period and audit entry belongs to exactly one organization; deleting an
// organization cascades to all of its ledger and audit state.
//
// Organizations are immutable once created for the scope of this library.
type Organization struct {
	types.Entity
	ID       id.OrgID          `json:"id"`
	Name     string            `json:"name"`
	Slug     string            `json:"slug"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
