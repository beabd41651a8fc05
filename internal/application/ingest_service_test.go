package application

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/testutils"
)

func newTestIngestService(t *testing.T) (*IngestService, *testutils.RecordingMetrics) {
	t.Helper()
	metrics := testutils.NewRecordingMetrics()
	return NewIngestService(ingest.NewAssembler(nil, nil), metrics, nil), metrics
}

func sampleCSV() string {
	return testutils.SampleBatchCSV(testutils.SampleBatchOptions{
		Rows:          6,
		Models:        2,
		Seed:          7,
		WithReference: true,
	})
}

func TestStorageKey(t *testing.T) {
	a := StorageKey("id,inputs\n")
	assert.True(t, strings.HasPrefix(a, "arbiter-"))
	assert.Len(t, a, len("arbiter-")+16)
	assert.Equal(t, a, StorageKey("id,inputs\n"))
	assert.NotEqual(t, a, StorageKey("id,inputs\r\n"))
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModeJSON, DetectMode("  [ {} ]"))
	assert.Equal(t, ModeJSON, DetectMode("\ufeff{\"overallSummary\":\"\"}"))
	assert.Equal(t, ModeCSV, DetectMode("id,inputs,A_outputs"))
	assert.Equal(t, ModeCSV, DetectMode(""))
}

func TestIngestService_LoadCSV(t *testing.T) {
	svc, metrics := newTestIngestService(t)
	text := sampleCSV()

	doc, err := svc.Load(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, ModeCSV, doc.Mode)
	assert.Equal(t, StorageKey(text), doc.Key)
	require.NotNil(t, doc.Batch)
	assert.Len(t, doc.Batch.Rows, 6)

	assert.InDelta(t, 6, metrics.Counter(MetricRowsProcessed), 1e-9)
	assert.InDelta(t, 0, metrics.Counter(MetricRowsSkipped), 1e-9)
	assert.Equal(t, 1, metrics.Latencies("ingest"))

	cached, ok := svc.Get(doc.Key)
	require.True(t, ok)
	assert.Same(t, doc, cached)
}

func TestIngestService_CachesByContent(t *testing.T) {
	svc, metrics := newTestIngestService(t)
	text := sampleCSV()
	ctx := context.Background()

	first, err := svc.LoadCSV(ctx, text)
	require.NoError(t, err)
	second, err := svc.LoadCSV(ctx, text)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.InDelta(t, 6, metrics.Counter(MetricRowsProcessed), 1e-9, "assembled once")

	svc.ClearCache()
	third, err := svc.LoadCSV(ctx, text)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Key, third.Key)
}

func TestIngestService_ConcurrentLoads(t *testing.T) {
	svc, metrics := newTestIngestService(t)
	text := sampleCSV()

	const callers = 16
	docs := make([]*Document, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := svc.LoadCSV(context.Background(), text)
			assert.NoError(t, err)
			docs[i] = doc
		}()
	}
	wg.Wait()

	for _, d := range docs {
		assert.Same(t, docs[0], d)
	}
	assert.InDelta(t, 6, metrics.Counter(MetricRowsProcessed), 1e-9)
}

func TestIngestService_BatchFailureIsNotCached(t *testing.T) {
	svc, metrics := newTestIngestService(t)
	text := "id,inputs,A_outputs\n,{},x\n,{},y\n"

	doc, err := svc.LoadCSV(context.Background(), text)
	require.Error(t, err)
	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.NotNil(t, doc, "the report survives a failed batch")
	assert.Equal(t, 2, doc.Batch.Report.TotalSkipped)
	assert.Equal(t, []int{2, 3}, doc.Batch.Report.SkippedLineNumbers)
	assert.InDelta(t, 2, metrics.Counter(MetricRowsSkipped), 1e-9)

	_, ok := svc.Get(doc.Key)
	assert.False(t, ok)
}

func TestIngestService_HeaderError(t *testing.T) {
	svc, _ := newTestIngestService(t)
	doc, err := svc.LoadCSV(context.Background(), "name,value\na,b\n")
	assert.Nil(t, doc)
	assert.ErrorIs(t, err, domain.ErrMissingHeaders)
}

func TestIngestService_LoadJSON(t *testing.T) {
	svc, metrics := newTestIngestService(t)
	text := "[" + testutils.ValidSuggestionJSON + "," + testutils.ValidSuggestionJSON + "]"

	doc, err := svc.Load(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, ModeJSON, doc.Mode)
	assert.Nil(t, doc.Batch)
	require.Len(t, doc.Sets, 2)
	require.Len(t, doc.Items, 4)
	assert.True(t, doc.HasItem("1-1"))
	assert.False(t, doc.HasItem("2-0"))
	assert.InDelta(t, 2, metrics.Counter(MetricRowsProcessed), 1e-9)
}

func TestIngestService_LoadJSONInvalid(t *testing.T) {
	svc, _ := newTestIngestService(t)
	_, err := svc.LoadJSON(context.Background(), "definitely not json")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIngestService_CancelledContext(t *testing.T) {
	svc, _ := newTestIngestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.LoadCSV(ctx, sampleCSV())
	assert.ErrorIs(t, err, context.Canceled)
}

// gatedMetrics holds the first rows_processed record until release is
// closed, pausing a build while it is in flight.
type gatedMetrics struct {
	*testutils.RecordingMetrics
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if metric == MetricRowsProcessed {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	g.RecordingMetrics.RecordCounter(metric, value, labels)
}

func TestIngestService_CancelledCallerDoesNotCancelSharedLoad(t *testing.T) {
	metrics := &gatedMetrics{
		RecordingMetrics: testutils.NewRecordingMetrics(),
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	svc := NewIngestService(ingest.NewAssembler(nil, nil), metrics, nil)
	text := sampleCSV()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.LoadCSV(ctx, text)
		firstErr <- err
	}()
	<-metrics.entered

	type result struct {
		doc *Document
		err error
	}
	second := make(chan result, 1)
	go func() {
		doc, err := svc.LoadCSV(context.Background(), text)
		second <- result{doc, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled, "the cancelled caller stops waiting")

	close(metrics.release)
	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.doc)
	assert.Equal(t, 6, got.doc.Batch.Report.TotalProcessed)

	cached, ok := svc.Get(got.doc.Key)
	require.True(t, ok, "the shared build finished and was cached")
	assert.Same(t, got.doc, cached)
}
