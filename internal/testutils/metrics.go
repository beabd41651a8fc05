package testutils

import (
	"sync"
	"time"

	"github.com/ahrav/go-arbiter/internal/ports"
)

var _ ports.MetricsCollector = (*RecordingMetrics)(nil)

// RecordingMetrics is a MetricsCollector that keeps running totals in
// memory. It is safe for concurrent use.
type RecordingMetrics struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	latencies  map[string]int
}

// NewRecordingMetrics creates an empty recorder.
func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		latencies:  make(map[string]int),
	}
}

// RecordLatency counts one observation of operation.
func (m *RecordingMetrics) RecordLatency(operation string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[operation]++
}

// RecordCounter adds value to the total for metric, ignoring labels.
func (m *RecordingMetrics) RecordCounter(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
}

// RecordGauge stores the latest value for metric.
func (m *RecordingMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = value
}

// RecordHistogram appends value to the observations of metric.
func (m *RecordingMetrics) RecordHistogram(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[metric] = append(m.histograms[metric], value)
}

// Counter returns the running total of metric.
func (m *RecordingMetrics) Counter(metric string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[metric]
}

// Latencies returns how many durations were recorded for operation.
func (m *RecordingMetrics) Latencies(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latencies[operation]
}

// Observations returns a copy of the values recorded for metric.
func (m *RecordingMetrics) Observations(metric string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[metric]...)
}
