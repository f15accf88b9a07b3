// Package audithook bridges Ledger lifecycle events to an external audit
// sink, for example a SIEM forwarder or a compliance event bus.
//
// It defines a local Sink interface so the package does not depend on any
// particular backend. Callers inject a SinkFunc adapter at wiring time.
// The Recorder's own audit trail is separate: this package exists for
// operational events (denials, quota exhaustion, anomalies) that belong
// in a security log rather than the tenant-visible action history.
package audithook

import (
	"context"
	"log/slog"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnReservationGranted = (*Extension)(nil)
	_ plugin.OnReservationDenied  = (*Extension)(nil)
	_ plugin.OnQuotaExceeded      = (*Extension)(nil)
	_ plugin.OnAnomalousRelease   = (*Extension)(nil)
	_ plugin.OnActionRecorded     = (*Extension)(nil)
	_ plugin.OnAuditWriteFailed   = (*Extension)(nil)
)

// Sink is the interface that audit backends must implement.
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// Event is a local representation of a bridged lifecycle event.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	OrgID      string         `json:"org_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// SinkFunc is an adapter to use a plain function as a Sink.
type SinkFunc func(ctx context.Context, event *Event) error

// Record implements Sink.
func (f SinkFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Extension forwards ledger lifecycle events to a Sink.
type Extension struct {
	sink    Sink
	enabled map[string]bool // nil = all enabled
	logger  *slog.Logger
}

// New creates an Extension that emits events through the provided Sink.
func New(s Sink, opts ...Option) *Extension {
	e := &Extension{
		sink:   s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnReservationGranted implements plugin.OnReservationGranted.
func (e *Extension) OnReservationGranted(ctx context.Context, orgID id.OrgID, key period.Key, amount, remaining int64) error {
	return e.record(ctx, ActionReservationGranted, SeverityInfo, OutcomeSuccess,
		ResourceReservation, key.String(), orgID, "",
		"amount", amount,
		"remaining", remaining,
	)
}

// OnReservationDenied implements plugin.OnReservationDenied.
func (e *Extension) OnReservationDenied(ctx context.Context, orgID id.OrgID, key period.Key, reason string) error {
	return e.record(ctx, ActionReservationDenied, SeverityWarning, OutcomeFailure,
		ResourceReservation, key.String(), orgID, reason,
	)
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, orgID id.OrgID, key period.Key, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourcePeriod, key.String(), orgID, "",
		"used", used,
		"limit", limit,
	)
}

// OnAnomalousRelease implements plugin.OnAnomalousRelease.
func (e *Extension) OnAnomalousRelease(ctx context.Context, orgID id.OrgID, key period.Key, amount, used int64) error {
	return e.record(ctx, ActionAnomalousRelease, SeverityCritical, OutcomeFailure,
		ResourcePeriod, key.String(), orgID, "release exceeded recorded usage",
		"amount", amount,
		"used", used,
	)
}

// OnActionRecorded implements plugin.OnActionRecorded.
func (e *Extension) OnActionRecorded(ctx context.Context, entry *audit.Entry) error {
	outcome := OutcomeSuccess
	severity := SeverityInfo
	if entry.Outcome != audit.OutcomeCompleted {
		outcome = OutcomeFailure
		severity = SeverityWarning
	}
	return e.record(ctx, ActionRecorded, severity, outcome,
		ResourceAuditEntry, entry.ID.String(), entry.OrgID, "",
		"action", entry.Action,
		"entry_outcome", string(entry.Outcome),
	)
}

// OnAuditWriteFailed implements plugin.OnAuditWriteFailed.
func (e *Extension) OnAuditWriteFailed(ctx context.Context, orgID id.OrgID, action string, err error) error {
	return e.record(ctx, ActionAuditWriteFailed, SeverityCritical, OutcomeFailure,
		ResourceAuditEntry, "", orgID, err.Error(),
		"action", action,
	)
}

// record builds and sends an event if the action is enabled. Sink errors
// are logged and dropped; the hook never fails the originating operation.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID string,
	orgID id.OrgID,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	var meta map[string]any
	if len(kvPairs) > 0 {
		meta = make(map[string]any, len(kvPairs)/2)
		for i := 0; i+1 < len(kvPairs); i += 2 {
			if key, ok := kvPairs[i].(string); ok {
				meta[key] = kvPairs[i+1]
			}
		}
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		OrgID:      orgID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if err := e.sink.Record(ctx, evt); err != nil {
		e.logger.Warn("audithook: failed to record event",
			"action", action,
			"org_id", orgID.String(),
			"error", err,
		)
	}
	return nil
}
