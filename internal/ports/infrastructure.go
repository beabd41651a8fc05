package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// LLMClient is the judge's view of a language model provider. Rate
// limiting, retries, budgets and timeouts are the implementation's
// concern; callers see one call and one error.
type LLMClient interface {
	// Complete sends prompt and returns the reply text.
	//
	// options carries provider-neutral settings. The judge passes:
	//   - "temperature": float64
	//   - "max_tokens": int
	//   - "model": string, overriding the client's model for one call
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// EstimateTokens approximates the token count of text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model the client sends requests to. Verdicts
	// record it so reasoning can be attributed.
	GetModel() string
}

// DecisionStore persists reviewer decisions for one input text.
// Implementations could use an embedded key-value store, a browser-style
// local store, or memory. Callers always read the whole snapshot, merge
// their change and write the whole snapshot back; with a single logical
// writer no locking is required of the store.
type DecisionStore interface {
	// Load returns the snapshot stored under key.
	// Returns false when nothing is stored. A stored value that cannot be
	// decoded is reported as an error wrapping ErrStoreCorrupted.
	Load(ctx context.Context, key string) (domain.SessionSnapshot, bool, error)

	// Save replaces the snapshot stored under key.
	Save(ctx context.Context, key string, snapshot domain.SessionSnapshot) error

	// Delete removes the snapshot stored under key.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Keys lists every stored key in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// MetricsCollector receives measurements from ingest, recovery, sessions,
// the judge and the HTTP layer. A nil collector means metrics are off;
// every component checks before recording.
//
// labels name the scope of a measurement, for example
// {"strategy": "line_escapes"} or {"mode": "csv"}.
type MetricsCollector interface {
	// RecordLatency records how long operation took.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter adds value to a counter, such as skipped rows or the
	// cascade tier that recovered a field.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets a gauge, such as the remaining judge budget.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram observes value in a distribution, such as rows per
	// batch or reviewer confidence.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// ConfigLoader loads the application config and reports later edits.
type ConfigLoader interface {
	// Load decodes and validates configuration into config, which must be
	// a pointer to the config struct.
	Load(ctx context.Context, config any) error

	// Watch calls callback with a freshly loaded copy of config whenever
	// the source changes and still validates. Invalid edits are skipped.
	// The returned stop function ends watching.
	Watch(ctx context.Context, config any, callback func(any)) (stop func(), err error)
}
