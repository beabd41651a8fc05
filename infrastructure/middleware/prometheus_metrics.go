// Package middleware provides cross-cutting concerns shared by the
// ingest pipeline, the review session and the LLM judge.
package middleware

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-arbiter/internal/ports"
)

const namespace = "arbiter"

// Metric names with dedicated collectors. Anything else recorded through
// RecordCounter, RecordGauge or RecordHistogram lands in a generic vector
// labelled by metric name.
const (
	metricRecoveryStrategy = "recovery_strategy_total"
	metricRowsProcessed    = "rows_processed"
	metricRowsSkipped      = "rows_skipped"
	metricOutputsDegraded  = "outputs_degraded"
)

// scopeLabels are consulted in order to find the scope of a measurement.
var scopeLabels = []string{"strategy", "mode", "provider", "model", "route"}

// PrometheusMetrics implements ports.MetricsCollector with Prometheus
// collectors registered on an injectable registerer.
type PrometheusMetrics struct {
	registry prometheus.Gatherer

	recoveryStrategy *prometheus.CounterVec
	ingestRows       *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	counters         *prometheus.CounterVec
	gauges           *prometheus.GaugeVec
	histograms       *prometheus.HistogramVec
}

// NewPrometheusMetrics registers every collector on reg. Pass a fresh
// prometheus.NewRegistry() per instance; registering twice on the same
// registry panics.
func NewPrometheusMetrics(reg *prometheus.Registry) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		registry: reg,
		recoveryStrategy: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      metricRecoveryStrategy,
				Help:      "Fields recovered, by the cascade tier that succeeded.",
			},
			[]string{"strategy"},
		),
		ingestRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rows_total",
				Help:      "Rows seen by the ingest pipeline, by outcome.",
			},
			[]string{"mode", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of arbiter operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "scope"},
		),
		counters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Generic event counters, by metric name.",
			},
			[]string{"metric", "scope"},
		),
		gauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current values, by metric name.",
			},
			[]string{"metric", "scope"},
		),
		histograms: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observations",
				Help:      "Distributions such as rows per batch or reviewer confidence.",
				Buckets:   []float64{1, 2, 3, 4, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"metric", "scope"},
		),
	}
}

func scope(labels map[string]string) string {
	for _, k := range scopeLabels {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return "unknown"
}

// RecordLatency records the duration of operation.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.latency.WithLabelValues(operation, scope(labels)).Observe(duration.Seconds())
}

// RecordCounter adds value to the counter named metric.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	switch metric {
	case metricRecoveryStrategy:
		pm.recoveryStrategy.WithLabelValues(scope(labels)).Add(value)
	case metricRowsProcessed:
		pm.ingestRows.WithLabelValues(scope(labels), "processed").Add(value)
	case metricRowsSkipped:
		pm.ingestRows.WithLabelValues(scope(labels), "skipped").Add(value)
	case metricOutputsDegraded:
		pm.ingestRows.WithLabelValues(scope(labels), "degraded").Add(value)
	default:
		pm.counters.WithLabelValues(metric, scope(labels)).Add(value)
	}
}

// RecordGauge sets the gauge named metric.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.gauges.WithLabelValues(metric, scope(labels)).Set(value)
}

// RecordHistogram observes value in the distribution named metric.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	pm.histograms.WithLabelValues(metric, scope(labels)).Observe(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
