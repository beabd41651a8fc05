package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// DefaultMaxDepth bounds how many container layers the extractor unwraps.
const DefaultMaxDepth = 5

var errNoSuggestions = errors.New("value does not expose codeSuggestions")

// Extractor normalizes loosely shaped model output into a SuggestionSet.
type Extractor struct {
	engine   *Engine
	maxDepth int
	logger   *zap.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(depth int) ExtractorOption {
	return func(x *Extractor) {
		if depth > 0 {
			x.maxDepth = depth
		}
	}
}

// WithExtractorLogger sets the logger used for debug output.
func WithExtractorLogger(l *zap.Logger) ExtractorOption {
	return func(x *Extractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// NewExtractor creates an Extractor that delegates fenced-block decoding to
// engine.
func NewExtractor(engine *Engine, opts ...ExtractorOption) *Extractor {
	x := &Extractor{engine: engine, maxDepth: DefaultMaxDepth, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// The shapes a candidate value can take. Classification is the only place
// that inspects dynamic types; normalize switches on the variant.
type (
	variant interface{ isVariant() }

	// direct already is a suggestion set.
	direct struct{ set domain.SuggestionSet }
	// wrappedContent is an object whose "content" field holds the payload
	// as text, usually a chat completion message.
	wrappedContent struct{ content string }
	// wrappedOutput is an object whose "output" field holds the payload.
	wrappedOutput struct{ output any }
	// text is a string that still needs decoding.
	text struct{ s string }
	// opaque is anything else.
	opaque struct{ value any }
)

func (direct) isVariant()         {}
func (wrappedContent) isVariant() {}
func (wrappedOutput) isVariant()  {}
func (text) isVariant()           {}
func (opaque) isVariant()         {}

func classify(value any) variant {
	switch v := value.(type) {
	case domain.SuggestionSet:
		return direct{set: v}
	case *domain.SuggestionSet:
		if v != nil {
			return direct{set: *v}
		}
		return opaque{value: nil}
	case string:
		return text{s: v}
	case map[string]any:
		if set, ok := asSuggestionSet(v); ok {
			return direct{set: set}
		}
		if content, ok := v["content"].(string); ok {
			return wrappedContent{content: content}
		}
		if output, ok := v["output"]; ok && output != nil {
			return wrappedOutput{output: output}
		}
	}
	return opaque{value: value}
}

// asSuggestionSet converts a decoded object exposing a codeSuggestions
// array into a SuggestionSet.
func asSuggestionSet(m map[string]any) (domain.SuggestionSet, bool) {
	if _, ok := m["codeSuggestions"].([]any); !ok {
		return domain.SuggestionSet{}, false
	}
	data, err := json.Marshal(m)
	if err != nil {
		return domain.SuggestionSet{}, false
	}
	var set domain.SuggestionSet
	if err := json.Unmarshal(data, &set); err != nil {
		// Individual items may carry wrongly typed fields; keep the
		// summary and whichever items decode on their own.
		set = decodeItemsOneByOne(m)
	}
	return set.Normalize(), true
}

func decodeItemsOneByOne(m map[string]any) domain.SuggestionSet {
	var set domain.SuggestionSet
	if s, ok := m["overallSummary"].(string); ok {
		set.OverallSummary = s
	}
	raw, _ := m["codeSuggestions"].([]any)
	for _, r := range raw {
		data, err := json.Marshal(r)
		if err != nil {
			continue
		}
		var item domain.SuggestionItem
		if err := json.Unmarshal(data, &item); err == nil {
			set.CodeSuggestions = append(set.CodeSuggestions, item)
		}
	}
	return set
}

// Normalize returns the SuggestionSet carried by value, or nil when none can
// be found. Callers own turning nil into a degraded output.
func (x *Extractor) Normalize(ctx context.Context, value any) *domain.SuggestionSet {
	set := x.normalize(ctx, value, 0)
	if set == nil {
		x.logger.Debug("no suggestion set found", zap.String("type", fmt.Sprintf("%T", value)))
	}
	return set
}

func (x *Extractor) normalize(ctx context.Context, value any, depth int) *domain.SuggestionSet {
	if depth > x.maxDepth {
		x.logger.Debug("extractor depth limit reached", zap.Int("depth", depth))
		return nil
	}

	switch v := classify(value).(type) {
	case direct:
		set := v.set.Normalize()
		return &set
	case wrappedContent:
		if HasFence(v.content) {
			if set := x.fromFence(ctx, v.content); set != nil {
				return set
			}
		}
		return x.normalize(ctx, v.content, depth+1)
	case wrappedOutput:
		return x.normalize(ctx, v.output, depth+1)
	case text:
		return x.fromText(ctx, v.s, depth)
	case opaque:
		if v.value == nil {
			return nil
		}
		if isStructured(v.value) {
			data, err := json.Marshal(v.value)
			if err != nil {
				return nil
			}
			return x.normalize(ctx, string(data), depth+1)
		}
		return x.normalize(ctx, fmt.Sprint(v.value), depth+1)
	}
	return nil
}

// fromText runs the light de-escaping strategies, accepting only results
// that expose codeSuggestions, then falls back to fenced and "content"
// extraction.
func (x *Extractor) fromText(ctx context.Context, s string, depth int) *domain.SuggestionSet {
	if s == "" {
		return nil
	}

	set, _, err := FirstSuccess(s, light, func(candidate string) (*domain.SuggestionSet, error) {
		var decoded any
		if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
			return nil, err
		}
		switch d := classify(decoded).(type) {
		case direct:
			out := d.set.Normalize()
			return &out, nil
		case text, wrappedContent, wrappedOutput:
			// Decoding peeled one layer; the payload is nested further.
			if nested := x.normalize(ctx, decoded, depth+1); nested != nil {
				return nested, nil
			}
		}
		return nil, errNoSuggestions
	}, nil)
	if err == nil {
		return set
	}

	if set := x.fromFence(ctx, s); set != nil {
		return set
	}
	if inner, ok := ContentField(s); ok && inner != s {
		return x.normalize(ctx, inner, depth+1)
	}
	return nil
}

// fromFence runs the full recovery cascade on the fenced block of s.
func (x *Extractor) fromFence(ctx context.Context, s string) *domain.SuggestionSet {
	fenced, ok := FencedJSON(s)
	if !ok {
		return nil
	}
	rv := x.engine.Recover(ctx, fenced, "fenced block")
	if rv.IsFallback() {
		return nil
	}
	if m, ok := rv.Value.(map[string]any); ok {
		if set, ok := asSuggestionSet(m); ok {
			return &set
		}
	}
	return nil
}
