package ports

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Test that our interfaces can be implemented correctly

// mockLLMClient implements LLMClient interface
type mockLLMClient struct{ model string }

func (m *mockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	return `{"winner":"main","confidence":4}`, nil
}

func (m *mockLLMClient) EstimateTokens(text string) (int, error) { return len(text) / 4, nil }

func (m *mockLLMClient) GetModel() string { return m.model }

// mockDecisionStore implements DecisionStore interface
type mockDecisionStore struct{ data map[string]domain.SessionSnapshot }

func newMockDecisionStore() *mockDecisionStore {
	return &mockDecisionStore{data: make(map[string]domain.SessionSnapshot)}
}

func (m *mockDecisionStore) Load(ctx context.Context, key string) (domain.SessionSnapshot, bool, error) {
	snap, ok := m.data[key]
	return snap, ok, nil
}

func (m *mockDecisionStore) Save(ctx context.Context, key string, snapshot domain.SessionSnapshot) error {
	m.data[key] = snapshot
	return nil
}

func (m *mockDecisionStore) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *mockDecisionStore) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// mockMetricsCollector implements MetricsCollector interface
type mockMetricsCollector struct {
	counters map[string]float64
}

func (m *mockMetricsCollector) RecordLatency(string, time.Duration, map[string]string) {}

func (m *mockMetricsCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	m.counters[metric] += value
}

func (m *mockMetricsCollector) RecordGauge(string, float64, map[string]string) {}

func (m *mockMetricsCollector) RecordHistogram(string, float64, map[string]string) {}

// mockConfigLoader implements ConfigLoader interface
type mockConfigLoader struct{}

func (m *mockConfigLoader) Load(ctx context.Context, config any) error { return nil }

func (m *mockConfigLoader) Watch(ctx context.Context, config any, callback func(any)) (func(), error) {
	return func() {}, nil
}

func TestInterfaces_Implementation(t *testing.T) {
	var _ LLMClient = (*mockLLMClient)(nil)
	var _ DecisionStore = (*mockDecisionStore)(nil)
	var _ MetricsCollector = (*mockMetricsCollector)(nil)
	var _ ConfigLoader = (*mockConfigLoader)(nil)

	llm := &mockLLMClient{model: "test-model"}
	assert.Equal(t, "test-model", llm.GetModel(), "GetModel() mismatch")

	tokens, err := llm.EstimateTokens("hello world test")
	require.NoError(t, err)
	assert.Greater(t, tokens, 0, "EstimateTokens() should return positive value")
}

func TestDecisionStore_WholeSnapshotWrites(t *testing.T) {
	ctx := context.Background()
	store := newMockDecisionStore()

	_, ok, err := store.Load(ctx, "arbiter-1")
	require.NoError(t, err)
	assert.False(t, ok, "Load() should not find a missing key")

	snap := domain.NewSessionSnapshot()
	snap.Labels = domain.Merge(snap.Labels, domain.SlotMain, "GPT")
	require.NoError(t, store.Save(ctx, "arbiter-1", snap))

	// A later write merges into what was loaded, then replaces it whole.
	loaded, ok, err := store.Load(ctx, "arbiter-1")
	require.NoError(t, err)
	require.True(t, ok)
	loaded.Results = domain.Merge(loaded.Results, "r1", domain.ComparisonResult{
		RowID: "r1", WinnerID: domain.WinnerTie, Confidence: domain.DefaultConfidence,
	})
	require.NoError(t, store.Save(ctx, "arbiter-1", loaded))

	final, _, _ := store.Load(ctx, "arbiter-1")
	assert.Equal(t, 1, final.Results.Len())
	label, _ := final.Labels.Get(domain.SlotMain)
	assert.Equal(t, "GPT", label)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"arbiter-1"}, keys)

	require.NoError(t, store.Delete(ctx, "arbiter-1"))
	require.NoError(t, store.Delete(ctx, "arbiter-1"), "Delete() of a missing key is not an error")
}

func TestMetricsCollector_Recording(t *testing.T) {
	metrics := &mockMetricsCollector{counters: make(map[string]float64)}
	labels := map[string]string{"strategy": "direct"}

	metrics.RecordCounter("recovery_strategy_total", 1, labels)
	metrics.RecordCounter("recovery_strategy_total", 2, labels)
	assert.Equal(t, float64(3), metrics.counters["recovery_strategy_total"], "RecordCounter() sum mismatch")
}

func TestConfigLoader_Operations(t *testing.T) {
	ctx := context.Background()
	loader := &mockConfigLoader{}

	var config struct{ Addr string }
	assert.NoError(t, loader.Load(ctx, &config))

	stop, err := loader.Watch(ctx, &config, func(any) {})
	assert.NoError(t, err)
	stop()
}
