// Package audit defines the immutable audit entry model: one record per
// automated agent decision, with inputs, outputs and timing.
package audit

import (
	"time"

	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/types"
)

// Well-known action tags. The set is open: callers may record any action
// string their agents produce.
const (
	ActionPlan       = "plan"
	ActionRender     = "render"
	ActionValidate   = "validate"
	ActionRegenerate = "regenerate"
)

// Outcome classifies how an action terminated.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// Entry is one immutable audit record. BrandKitID and AssetID are weak
// references: they may dangle to a deleted referent, in which case the
// entry survives with the reference nulled rather than being deleted.
//
// DurationMS is nil only for synthetic abandoned entries, where the action
// never reached a terminal call and the true duration is unknown.
type Entry struct {
	ID         id.AuditEntryID `json:"id"`
	OrgID      id.OrgID        `json:"org_id"`
	BrandKitID id.BrandKitID   `json:"brand_kit_id,omitempty"`
	AssetID    id.AssetID      `json:"asset_id,omitempty"`
	Action     string          `json:"action"`
	Outcome    Outcome         `json:"outcome"`
	Payload    types.Document  `json:"payload,omitempty"`
	Result     types.Document  `json:"result,omitempty"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
