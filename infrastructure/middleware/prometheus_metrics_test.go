package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arbiter/internal/ports"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	return NewPrometheusMetrics(prometheus.NewRegistry())
}

func TestNewPrometheusMetrics(t *testing.T) {
	pm := newTestMetrics(t)
	assert.NotNil(t, pm.recoveryStrategy)
	assert.NotNil(t, pm.ingestRows)
	assert.NotNil(t, pm.latency)

	var _ ports.MetricsCollector = pm

	assert.NotPanics(t, func() { NewPrometheusMetrics(prometheus.NewRegistry()) },
		"separate registries never collide")
}

func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		labels map[string]string
		value  float64
		read   func(pm *PrometheusMetrics) float64
	}{
		{
			name:   "recovery strategy",
			metric: "recovery_strategy_total",
			labels: map[string]string{"strategy": "fenced:direct"},
			value:  1,
			read: func(pm *PrometheusMetrics) float64 {
				return testutil.ToFloat64(pm.recoveryStrategy.WithLabelValues("fenced:direct"))
			},
		},
		{
			name:   "rows processed",
			metric: "rows_processed",
			labels: map[string]string{"mode": "csv"},
			value:  20,
			read: func(pm *PrometheusMetrics) float64 {
				return testutil.ToFloat64(pm.ingestRows.WithLabelValues("csv", "processed"))
			},
		},
		{
			name:   "rows skipped",
			metric: "rows_skipped",
			labels: map[string]string{"mode": "csv"},
			value:  3,
			read: func(pm *PrometheusMetrics) float64 {
				return testutil.ToFloat64(pm.ingestRows.WithLabelValues("csv", "skipped"))
			},
		},
		{
			name:   "outputs degraded",
			metric: "outputs_degraded",
			labels: map[string]string{"mode": "csv"},
			value:  2,
			read: func(pm *PrometheusMetrics) float64 {
				return testutil.ToFloat64(pm.ingestRows.WithLabelValues("csv", "degraded"))
			},
		},
		{
			name:   "generic counter without labels",
			metric: "judge_verdicts_total",
			value:  1,
			read: func(pm *PrometheusMetrics) float64 {
				return testutil.ToFloat64(pm.counters.WithLabelValues("judge_verdicts_total", "unknown"))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pm := newTestMetrics(t)
			pm.RecordCounter(tt.metric, tt.value, tt.labels)
			pm.RecordCounter(tt.metric, tt.value, tt.labels)
			assert.InDelta(t, 2*tt.value, tt.read(pm), 1e-9)
		})
	}
}

func TestPrometheusMetrics_NegativeCounterIgnored(t *testing.T) {
	pm := newTestMetrics(t)
	assert.NotPanics(t, func() { pm.RecordCounter("rows_processed", -1, nil) })
}

func TestPrometheusMetrics_GaugeAndHistograms(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordGauge("last_batch_rows", 7, map[string]string{"mode": "csv"})
	pm.RecordGauge("last_batch_rows", 9, map[string]string{"mode": "csv"})
	assert.InDelta(t, 9, testutil.ToFloat64(pm.gauges.WithLabelValues("last_batch_rows", "csv")), 1e-9)

	pm.RecordHistogram("decision_confidence", 4, nil)
	pm.RecordLatency("recovery", 5*time.Millisecond, map[string]string{"strategy": "direct"})

	assert.Equal(t, 1, testutil.CollectAndCount(pm.histograms))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.latency))
}

func TestScope(t *testing.T) {
	assert.Equal(t, "direct", scope(map[string]string{"mode": "csv", "strategy": "direct"}))
	assert.Equal(t, "openai", scope(map[string]string{"provider": "openai"}))
	assert.Equal(t, "unknown", scope(map[string]string{"strategy": ""}))
	assert.Equal(t, "unknown", scope(nil))
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordCounter("rows_processed", 5, map[string]string{"mode": "json"})

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `arbiter_ingest_rows_total{mode="json",outcome="processed"} 5`)
}
