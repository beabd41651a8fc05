package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/recovery"
)

// Header names recognized by the assembler.
const (
	ColumnID        = "id"
	ColumnInputs    = "inputs"
	ColumnReference = "reference_outputs"
	OutputsSuffix   = "_outputs"
)

const (
	// ReferenceLabel is the display name of the reference output when the
	// cell does not carry its own label.
	ReferenceLabel = "Reference"

	errEmptyCell     = "empty cell"
	errNoSuggestions = "no suggestion set found in output"
)

// Assembler builds comparison rows from tokenized CSV records. It is safe
// for concurrent use.
type Assembler struct {
	engine    *recovery.Engine
	extractor *recovery.Extractor
	logger    *zap.Logger
	tracer    trace.Tracer
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger for skipped-row warnings and batch failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Assembler) {
		if t != nil {
			a.tracer = t
		}
	}
}

// NewAssembler creates an Assembler. A nil extractor is replaced by one
// built on engine with default settings.
func NewAssembler(engine *recovery.Engine, extractor *recovery.Extractor, opts ...Option) *Assembler {
	if engine == nil {
		engine = recovery.NewEngine()
	}
	if extractor == nil {
		extractor = recovery.NewExtractor(engine)
	}
	a := &Assembler{
		engine:    engine,
		extractor: extractor,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("arbiter-ingest"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type column struct {
	index int
	name  string
	label string
}

// layout maps the header onto cell positions. Absent columns are -1.
type layout struct {
	id        int
	inputs    int
	reference int
	models    []column
}

func parseHeader(header []string) (layout, error) {
	l := layout{id: -1, inputs: -1, reference: -1}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)

		switch {
		case h == ColumnID:
			if l.id < 0 {
				l.id = i
			}
		case h == ColumnInputs:
			if l.inputs < 0 {
				l.inputs = i
			}
		case h == ColumnReference:
			if l.reference < 0 {
				l.reference = i
			}
		case strings.HasSuffix(h, OutputsSuffix):
			label := strings.TrimSuffix(h, OutputsSuffix)
			if label == "" {
				label = h
			}
			l.models = append(l.models, column{index: i, name: h, label: label})
		}
	}

	var missing []string
	if l.id < 0 {
		missing = append(missing, ColumnID)
	}
	if l.inputs < 0 {
		missing = append(missing, ColumnInputs)
	}
	if len(l.models) == 0 {
		missing = append(missing, "*"+OutputsSuffix)
	}
	if len(missing) > 0 {
		return layout{}, domain.NewHeaderError(missing...)
	}
	return l, nil
}

// AssembleCSV tokenizes text and assembles every data row. The first record
// is the header.
func (a *Assembler) AssembleCSV(ctx context.Context, text string) (Batch, error) {
	records := Tokenize(text)
	if len(records) == 0 {
		return Batch{}, domain.NewHeaderError(ColumnID, ColumnInputs, "*"+OutputsSuffix)
	}
	return a.Assemble(ctx, records[0].Fields, records[1:])
}

// Assemble validates header and builds one ComparisonRow per record, in
// input order. A row that cannot be assembled is skipped and recorded in
// the report; degraded outputs never skip a row. Missing headers return a
// *domain.HeaderError before any row is read, and a batch in which no row
// survives returns a *domain.BatchError alongside the report.
func (a *Assembler) Assemble(ctx context.Context, header []string, records []Record) (Batch, error) {
	ctx, span := a.tracer.Start(ctx, "Assembler.Assemble",
		trace.WithAttributes(attribute.Int("ingest.records", len(records))),
	)
	defer span.End()

	l, err := parseHeader(header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid header")
		return Batch{}, err
	}

	batch := Batch{Rows: make([]domain.ComparisonRow, 0, len(records))}
	for _, rec := range records {
		row, degraded, rowErr := a.assembleRow(ctx, l, rec)
		if rowErr != nil {
			a.logger.Warn("skipping row",
				zap.Int("line", rec.Line),
				zap.String("reason", rowErr.Reason),
			)
			batch.Report.skip(rowErr)
			continue
		}
		batch.Rows = append(batch.Rows, row)
		batch.Report.TotalProcessed++
		batch.Report.Degraded += degraded
	}

	span.SetAttributes(
		attribute.Int("ingest.rows_processed", batch.Report.TotalProcessed),
		attribute.Int("ingest.rows_skipped", batch.Report.TotalSkipped),
		attribute.Int("ingest.outputs_degraded", batch.Report.Degraded),
	)

	if len(batch.Rows) == 0 {
		err := domain.NewBatchError(len(records), batch.Report.Skipped)
		a.logger.Error("no rows assembled", zap.Int("records", len(records)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no rows assembled")
		return batch, err
	}
	if batch.Report.TotalSkipped > 0 {
		a.logger.Info("batch assembled with skipped rows", zap.String("summary", batch.Report.Summary()))
	}
	return batch, nil
}

func (a *Assembler) assembleRow(ctx context.Context, l layout, rec Record) (row domain.ComparisonRow, degraded int, rowErr *domain.RowError) {
	defer func() {
		if r := recover(); r != nil {
			row, degraded = domain.ComparisonRow{}, 0
			rowErr = domain.NewRowError(rec.Line, fmt.Errorf("assembling row: %v", r))
		}
	}()

	cell := func(i int) string {
		if i >= 0 && i < len(rec.Fields) {
			return rec.Fields[i]
		}
		return ""
	}

	id := strings.TrimSpace(cell(l.id))
	if id == "" {
		return row, 0, domain.NewRowError(rec.Line, domain.ErrMissingID)
	}
	row.ID = id
	row.Inputs = a.parseInputs(ctx, cell(l.inputs), id)

	for i, col := range l.models {
		out := a.buildOutput(ctx, cell(col.index), col.label, provenance(col.name, id))
		if out.IsFallback() {
			degraded++
		}
		if i == 0 {
			row.Outputs = out
			continue
		}
		row.AlternativeOutputs = append(row.AlternativeOutputs, out)
	}

	if l.reference >= 0 {
		if raw := cell(l.reference); strings.TrimSpace(raw) != "" {
			out := a.buildOutput(ctx, raw, ReferenceLabel, provenance(ColumnReference, id))
			if out.IsFallback() {
				degraded++
			}
			row.ReferenceOutputs = &out
		}
	}
	return row, degraded, nil
}

// parseInputs recovers the inputs cell. A container object that mentions
// an "output" key is unwrapped to its "output" or "inputs" member.
func (a *Assembler) parseInputs(ctx context.Context, raw, rowID string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	label := provenance(ColumnInputs, rowID)
	rv := a.engine.Recover(ctx, raw, label)
	if rv.IsFallback() {
		return rv.Fallback.Placeholder()
	}

	m, ok := rv.Value.(map[string]any)
	if !ok || !strings.HasPrefix(trimmed, "{") || !strings.Contains(trimmed, `"output"`) {
		return rv.Value
	}
	for _, key := range []string{"output", "inputs"} {
		inner, ok := m[key]
		if !ok || inner == nil {
			continue
		}
		if s, ok := inner.(string); ok {
			if nested := a.engine.Recover(ctx, s, label); !nested.IsFallback() {
				return nested.Value
			}
		}
		return inner
	}
	return rv.Value
}

// buildOutput turns one model cell into a ComparisonOutput. It never
// returns an output with neither Parsed nor Fallback set.
func (a *Assembler) buildOutput(ctx context.Context, raw, defaultLabel, label string) domain.ComparisonOutput {
	out := domain.ComparisonOutput{Output: raw, Label: defaultLabel}
	if strings.TrimSpace(raw) == "" {
		out.Fallback = domain.NewFallback(label, "", errEmptyCell)
		return out
	}

	rv := a.engine.Recover(ctx, raw, label)
	payload := rv.Value
	if rv.IsFallback() {
		payload = raw
	} else if m, ok := rv.Value.(map[string]any); ok {
		if l, ok := m["label"].(string); ok && strings.TrimSpace(l) != "" {
			out.Label = l
		}
		if inner, ok := m["output"]; ok && inner != nil {
			out.Output = stringify(inner)
		}
	}

	if set := a.extractor.Normalize(ctx, payload); set != nil {
		out.Parsed = set
		return out
	}

	fb := rv.Fallback
	if fb == nil {
		fb = domain.NewFallback(label, raw, errNoSuggestions)
	}
	out.Fallback = fb
	return out
}

// provenance names a cell by column and row id rather than by line, so a
// row's fallback records do not change when other rows are added or removed.
func provenance(column, rowID string) string {
	return fmt.Sprintf("%s of row %s", column, rowID)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
