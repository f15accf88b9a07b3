package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusFactory is a MetricFactory backed by a Prometheus registerer.
// Metric names use dots internally; they are rewritten to underscores to
// satisfy the Prometheus naming rules.
type PrometheusFactory struct {
	registerer prometheus.Registerer
}

var _ MetricFactory = (*PrometheusFactory)(nil)

// NewPrometheusFactory creates a factory registering on reg. Pass
// prometheus.DefaultRegisterer to use the process-global registry.
func NewPrometheusFactory(reg prometheus.Registerer) *PrometheusFactory {
	return &PrometheusFactory{registerer: reg}
}

func promName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: promName(name),
	})
	f.registerer.MustRegister(c)
	return c
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    promName(name),
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
	f.registerer.MustRegister(h)
	return h
}
