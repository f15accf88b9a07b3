// Package plugin provides an extensible plugin system for Ledger.
// Plugins can hook into lifecycle events of the credit ledger and the
// audit recorder to extend functionality.
package plugin

import (
	"context"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Credit ledger hooks
// ──────────────────────────────────────────────────

// OnReservationGranted is called after a credit reservation succeeds.
type OnReservationGranted interface {
	Plugin
	OnReservationGranted(ctx context.Context, orgID id.OrgID, key period.Key, amount, remaining int64) error
}

// OnReservationDenied is called after a reservation is refused, for any
// reason (quota or subscription state).
type OnReservationDenied interface {
	Plugin
	OnReservationDenied(ctx context.Context, orgID id.OrgID, key period.Key, reason string) error
}

// OnQuotaExceeded is called when a reservation is refused specifically
// because the period's plan limit is exhausted.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, orgID id.OrgID, key period.Key, used, limit int64) error
}

// OnAnomalousRelease is called when a Release would have driven usage
// below zero and was clamped. It indicates a reservation/release mismatch
// in the calling orchestration.
type OnAnomalousRelease interface {
	Plugin
	OnAnomalousRelease(ctx context.Context, orgID id.OrgID, key period.Key, amount, used int64) error
}

// ──────────────────────────────────────────────────
// Audit recorder hooks
// ──────────────────────────────────────────────────

// OnActionRecorded is called after a terminal audit entry is durably
// written (completed, failed or swept as abandoned).
type OnActionRecorded interface {
	Plugin
	OnActionRecorded(ctx context.Context, e *audit.Entry) error
}

// OnAuditWriteFailed is called when a terminal audit write exhausted its
// retries and the failure is being surfaced to the caller.
type OnAuditWriteFailed interface {
	Plugin
	OnAuditWriteFailed(ctx context.Context, orgID id.OrgID, action string, err error) error
}
