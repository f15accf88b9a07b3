// Package observability provides a metrics extension for Ledger that
// records lifecycle event counts through a pluggable MetricFactory. A
// Prometheus-backed factory ships in prometheus.go.
package observability

import (
	"context"

	"github.com/brandforge/ledger/audit"
	"github.com/brandforge/ledger/id"
	"github.com/brandforge/ledger/period"
	"github.com/brandforge/ledger/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnReservationGranted = (*MetricsExtension)(nil)
	_ plugin.OnReservationDenied  = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded      = (*MetricsExtension)(nil)
	_ plugin.OnAnomalousRelease   = (*MetricsExtension)(nil)
	_ plugin.OnActionRecorded     = (*MetricsExtension)(nil)
	_ plugin.OnAuditWriteFailed   = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Ledger and Recorder plugin to track metering and
// audit activity.
type MetricsExtension struct {
	factory MetricFactory

	// Reservation metrics
	ReservationsGranted Counter
	ReservationsDenied  Counter
	QuotaExceeded       Counter
	CreditsReserved     Counter
	ReservationSize     Histogram

	// Release metrics
	AnomalousReleases Counter

	// Audit metrics
	ActionsRecorded Counter
	ActionsFailed   Counter
	ActionsSwept    Counter
	ActionDuration  Histogram
	AuditWriteFails Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided
// MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		ReservationsGranted: factory.Counter("ledger.reservations.granted"),
		ReservationsDenied:  factory.Counter("ledger.reservations.denied"),
		QuotaExceeded:       factory.Counter("ledger.quota.exceeded"),
		CreditsReserved:     factory.Counter("ledger.credits.reserved"),
		ReservationSize:     factory.Histogram("ledger.reservation.size"),

		AnomalousReleases: factory.Counter("ledger.releases.anomalous"),

		ActionsRecorded: factory.Counter("ledger.audit.recorded"),
		ActionsFailed:   factory.Counter("ledger.audit.failed"),
		ActionsSwept:    factory.Counter("ledger.audit.swept"),
		ActionDuration:  factory.Histogram("ledger.audit.duration_ms"),
		AuditWriteFails: factory.Counter("ledger.audit.write_failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// OnReservationGranted implements plugin.OnReservationGranted.
func (m *MetricsExtension) OnReservationGranted(_ context.Context, _ id.OrgID, _ period.Key, amount, _ int64) error {
	m.ReservationsGranted.Inc()
	m.CreditsReserved.Add(float64(amount))
	m.ReservationSize.Observe(float64(amount))
	return nil
}

// OnReservationDenied implements plugin.OnReservationDenied.
func (m *MetricsExtension) OnReservationDenied(_ context.Context, _ id.OrgID, _ period.Key, _ string) error {
	m.ReservationsDenied.Inc()
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ id.OrgID, _ period.Key, _, _ int64) error {
	m.QuotaExceeded.Inc()
	return nil
}

// OnAnomalousRelease implements plugin.OnAnomalousRelease.
func (m *MetricsExtension) OnAnomalousRelease(_ context.Context, _ id.OrgID, _ period.Key, _, _ int64) error {
	m.AnomalousReleases.Inc()
	return nil
}

// OnActionRecorded implements plugin.OnActionRecorded.
func (m *MetricsExtension) OnActionRecorded(_ context.Context, e *audit.Entry) error {
	switch e.Outcome {
	case audit.OutcomeCompleted:
		m.ActionsRecorded.Inc()
	case audit.OutcomeFailed:
		m.ActionsFailed.Inc()
	case audit.OutcomeAbandoned:
		m.ActionsSwept.Inc()
	}
	if e.DurationMS != nil {
		m.ActionDuration.Observe(float64(*e.DurationMS))
	}
	return nil
}

// OnAuditWriteFailed implements plugin.OnAuditWriteFailed.
func (m *MetricsExtension) OnAuditWriteFailed(_ context.Context, _ id.OrgID, _ string, _ error) error {
	m.AuditWriteFails.Inc()
	return nil
}
