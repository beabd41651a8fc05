package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// Ingest metric names.
const (
	MetricRowsProcessed   = "rows_processed"
	MetricRowsSkipped     = "rows_skipped"
	MetricOutputsDegraded = "outputs_degraded"
)

// Document modes.
const (
	ModeCSV  = "csv"
	ModeJSON = "json"
)

// storageKeyPrefix namespaces persisted decisions.
const storageKeyPrefix = "arbiter-"

// storageKeyHexLen is the number of hex digits of the content hash kept in
// a storage key.
const storageKeyHexLen = 16

// StorageKey derives the key under which decisions for text are persisted.
// Identical text always maps to the same key, so reopening a file resumes
// its review.
func StorageKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return storageKeyPrefix + hex.EncodeToString(sum[:])[:storageKeyHexLen]
}

// Document is one ingested input text. Exactly one of Batch and Sets is
// populated, according to Mode. Cached documents are shared between
// callers and MUST NOT be mutated.
type Document struct {
	Key   string                 `json:"key"`
	Mode  string                 `json:"mode"`
	Batch *ingest.Batch          `json:"batch,omitempty"`
	Sets  []domain.SuggestionSet `json:"sets,omitempty"`
	Items []ingest.ReviewItem    `json:"items,omitempty"`
}

// HasItem reports whether id names a JSON-mode review item.
func (d *Document) HasItem(id string) bool {
	for _, it := range d.Items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// IngestService turns raw input text into cached Documents. It is safe for
// concurrent use: identical text is assembled once, concurrent requests for
// the same text share a single assembly.
type IngestService struct {
	assembler *ingest.Assembler
	logger    *zap.Logger
	metrics   ports.MetricsCollector

	// cache stores documents indexed by mode and storage key.
	cache   map[string]*Document
	cacheMu sync.RWMutex
	// sf prevents duplicate assembly of the same text.
	sf singleflight.Group
}

// NewIngestService creates a service around assembler. metrics may be nil.
func NewIngestService(assembler *ingest.Assembler, metrics ports.MetricsCollector, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		assembler: assembler,
		logger:    logger,
		metrics:   metrics,
		cache:     make(map[string]*Document),
	}
}

// DetectMode guesses the input mode: text that opens with a JSON object or
// array is a JSON-mode document, anything else is CSV.
func DetectMode(text string) string {
	trimmed := strings.TrimLeft(strings.TrimPrefix(text, "\ufeff"), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		return ModeJSON
	}
	return ModeCSV
}

// Load ingests text in the mode DetectMode picks.
func (s *IngestService) Load(ctx context.Context, text string) (*Document, error) {
	if DetectMode(text) == ModeJSON {
		return s.LoadJSON(ctx, text)
	}
	return s.LoadCSV(ctx, text)
}

// LoadCSV assembles a CSV batch. When no row survives, the error is a
// *domain.BatchError and the returned document still carries the report;
// such documents are not cached.
func (s *IngestService) LoadCSV(ctx context.Context, text string) (*Document, error) {
	return s.load(ctx, ModeCSV, text, func(ctx context.Context, key string) (*Document, error) {
		batch, err := s.assembler.AssembleCSV(ctx, text)
		doc := &Document{Key: key, Mode: ModeCSV, Batch: &batch}
		s.record(ModeCSV, batch.Report)
		return doc, err
	})
}

// LoadJSON parses a JSON-mode suggestion document.
func (s *IngestService) LoadJSON(ctx context.Context, text string) (*Document, error) {
	return s.load(ctx, ModeJSON, text, func(ctx context.Context, key string) (*Document, error) {
		sets, err := s.assembler.ParseSuggestionDocument(ctx, text)
		if err != nil {
			return nil, err
		}
		s.record(ModeJSON, ingest.Report{TotalProcessed: len(sets)})
		return &Document{Key: key, Mode: ModeJSON, Sets: sets, Items: ingest.ReviewItems(sets)}, nil
	})
}

// Get returns a previously loaded document by storage key.
func (s *IngestService) Get(key string) (*Document, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	for _, mode := range []string{ModeCSV, ModeJSON} {
		if doc, ok := s.cache[mode+":"+key]; ok {
			return doc, true
		}
	}
	return nil, false
}

// ClearCache drops every cached document.
func (s *IngestService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache = make(map[string]*Document)
}

type partialResult struct {
	doc *Document
	err error
}

// load runs build once per distinct text, sharing the result with every
// concurrent caller. The build outlives any single caller: a caller whose
// ctx ends stops waiting, but the build and the other callers carry on.
func (s *IngestService) load(
	ctx context.Context,
	mode, text string,
	build func(ctx context.Context, key string) (*Document, error),
) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := StorageKey(text)
	cacheKey := mode + ":" + key
	buildCtx := context.WithoutCancel(ctx)

	start := time.Now()
	ch := s.sf.DoChan(cacheKey, func() (any, error) {
		if doc, ok := s.cached(cacheKey); ok {
			return doc, nil
		}
		doc, err := build(buildCtx, key)
		if err != nil {
			// A failed batch still reports what was skipped.
			var batchErr *domain.BatchError
			if errors.As(err, &batchErr) && doc != nil {
				return partialResult{doc: doc, err: err}, nil
			}
			return nil, err
		}
		s.store(cacheKey, doc)
		return doc, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("ingest", time.Since(start), map[string]string{"mode": mode})
	}
	if res.Err != nil {
		s.logger.Warn("ingest failed", zap.String("mode", mode), zap.Error(res.Err))
		return nil, res.Err
	}
	if res.Shared {
		s.logger.Debug("ingest shared with concurrent caller", zap.String("key", key))
	}

	if p, ok := res.Val.(partialResult); ok {
		return p.doc, p.err
	}
	return res.Val.(*Document), nil
}

func (s *IngestService) cached(cacheKey string) (*Document, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	doc, ok := s.cache[cacheKey]
	return doc, ok
}

func (s *IngestService) store(cacheKey string, doc *Document) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache[cacheKey] = doc
}

func (s *IngestService) record(mode string, r ingest.Report) {
	if s.metrics == nil {
		return
	}
	labels := map[string]string{"mode": mode}
	s.metrics.RecordCounter(MetricRowsProcessed, float64(r.TotalProcessed), labels)
	s.metrics.RecordCounter(MetricRowsSkipped, float64(r.TotalSkipped), labels)
	s.metrics.RecordCounter(MetricOutputsDegraded, float64(r.Degraded), labels)
	s.metrics.RecordHistogram("batch_rows", float64(r.TotalLines()), labels)
}
