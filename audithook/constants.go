package audithook

// Action constants for bridged events.
const (
	ActionReservationGranted = "reservation.granted"
	ActionReservationDenied  = "reservation.denied"
	ActionQuotaExceeded      = "quota.exceeded"
	ActionAnomalousRelease   = "release.anomalous"
	ActionRecorded           = "action.recorded"
	ActionAuditWriteFailed   = "audit.write_failed"
)

// Resource constants for bridged events.
const (
	ResourceReservation = "reservation"
	ResourcePeriod      = "billing_period"
	ResourceAuditEntry  = "audit_entry"
)

// Severity levels for bridged events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome values for bridged events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
