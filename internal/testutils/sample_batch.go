// Package testutils provides utilities for testing, including mock objects and
// test data generators. These components are intended for internal use within
// the project's test suites and are not part of the public API.
package testutils

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Cell encodings produced by the sample batch generator. Every encoding is
// one the ingest pipeline is expected to recover without degradation.
const (
	EncodingPlain         = "plain"
	EncodingWrapped       = "wrapped"
	EncodingFenced        = "fenced"
	EncodingQuoteEscaped  = "quote_escaped"
	EncodingDoubleEncoded = "double_encoded"
)

// Encodings lists every cell encoding in generation order.
var Encodings = []string{
	EncodingPlain,
	EncodingWrapped,
	EncodingFenced,
	EncodingQuoteEscaped,
	EncodingDoubleEncoded,
}

var (
	sampleFiles = []string{
		"internal/server/handler.go",
		"internal/store/cache.go",
		"pkg/auth/token.go",
		"cmd/worker/main.go",
		"internal/billing/invoice.go",
	}
	sampleLabels = []string{
		"security_vulnerability", "bug", "performance", "documentation",
		"refactoring", "resource_leak", "naming", "type_safety", "style",
	}
	sampleSummaries = []string{
		"The change is mostly sound but leaks resources on error paths",
		"Error handling is inconsistent across the new handlers",
		"Input validation is missing for user supplied identifiers",
		"The refactor reads well; a few naming nits remain",
		"Concurrency around the cache needs a second look",
	}
	sampleAdvice = []string{
		"Close the response body before returning",
		"Wrap the error with the identifier for context",
		"Validate the token length before decoding",
		"Rename the helper to describe what it returns",
		"Guard the map with the existing mutex",
	}
)

// SampleBatchOptions controls GenerateSampleBatch.
type SampleBatchOptions struct {
	// Rows is the number of data rows.
	Rows int
	// Models is the number of model output columns, at least 1.
	Models int
	// Seed makes generation reproducible.
	Seed int64
	// WithReference adds a reference_outputs column.
	WithReference bool
	// MalformedEvery, when positive, blanks the id of every n-th row and
	// replaces its first model cell with unparseable text.
	MalformedEvery int
}

// GenerateSuggestionSet builds a random but well-formed suggestion set.
func GenerateSuggestionSet(rng *rand.Rand) domain.SuggestionSet {
	set := domain.SuggestionSet{
		OverallSummary:  sampleSummaries[rng.Intn(len(sampleSummaries))],
		CodeSuggestions: []domain.SuggestionItem{},
	}
	for range rng.Intn(4) {
		start := domain.LineNumber(1 + rng.Intn(200))
		end := start + domain.LineNumber(rng.Intn(5))
		advice := sampleAdvice[rng.Intn(len(sampleAdvice))]
		set.CodeSuggestions = append(set.CodeSuggestions, domain.SuggestionItem{
			RelevantFile:       sampleFiles[rng.Intn(len(sampleFiles))],
			Language:           "go",
			SuggestionContent:  advice + ".",
			ExistingCode:       "return err",
			ImprovedCode:       "return fmt.Errorf(\n\t\"context: %w\", err)",
			OneSentenceSummary: advice,
			RelevantLinesStart: &start,
			RelevantLinesEnd:   &end,
			Label:              sampleLabels[rng.Intn(len(sampleLabels))],
		})
	}
	return set
}

// EncodeCell renders a suggestion set in the given cell encoding.
func EncodeCell(set domain.SuggestionSet, encoding, label string) string {
	data, _ := json.Marshal(set.Normalize())
	doc := string(data)

	switch encoding {
	case EncodingWrapped:
		wrapped, _ := json.Marshal(map[string]string{"output": doc, "label": label})
		return string(wrapped)
	case EncodingFenced:
		return "Here is my review.\n```json\n" + doc + "\n```\n"
	case EncodingQuoteEscaped:
		return strings.ReplaceAll(doc, `"`, `\"`)
	case EncodingDoubleEncoded:
		return EscapeLevels(doc, 1)
	default:
		return doc
	}
}

// SampleBatchCSV generates a CSV review batch with the columns id, inputs,
// optional reference_outputs and one ModelX_outputs column per model.
// Cells rotate through Encodings.
func SampleBatchCSV(opts SampleBatchOptions) string {
	rng := rand.New(rand.NewSource(opts.Seed))
	models := max(opts.Models, 1)

	header := []string{"id", "inputs"}
	if opts.WithReference {
		header = append(header, "reference_outputs")
	}
	for m := range models {
		header = append(header, fmt.Sprintf("Model%c_outputs", 'A'+m))
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	b.WriteString("\n")

	for i := range opts.Rows {
		id := fmt.Sprintf("row-%03d", i+1)
		malformed := opts.MalformedEvery > 0 && (i+1)%opts.MalformedEvery == 0
		if malformed {
			id = ""
		}

		inputs, _ := json.Marshal(map[string]string{
			"file": sampleFiles[rng.Intn(len(sampleFiles))],
			"diff": "+\tif err != nil {\n+\t\treturn err\n+\t}",
		})
		cells := []string{id, string(inputs)}
		if opts.WithReference {
			cells = append(cells, EncodeCell(GenerateSuggestionSet(rng), EncodingPlain, "Reference"))
		}
		for m := range models {
			encoding := Encodings[(i+m)%len(Encodings)]
			label := fmt.Sprintf("Model %c", 'A'+m)
			cell := EncodeCell(GenerateSuggestionSet(rng), encoding, label)
			if malformed && m == 0 {
				cell = "model timed out"
			}
			cells = append(cells, cell)
		}

		for j, c := range cells {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(`"` + strings.ReplaceAll(c, `"`, `""`) + `"`)
		}
		b.WriteString("\n")
	}
	return b.String()
}
