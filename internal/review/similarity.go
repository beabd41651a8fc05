package review

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// SummarySimilarity scores how alike two summaries are, from 0 (nothing in
// common) to 1 (identical after case folding and whitespace collapsing).
func SummarySimilarity(a, b string) float64 {
	a, b = prepare(a), prepare(b)
	if a == b {
		return 1.0
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

func prepare(s string) string {
	return fold(strings.Join(strings.Fields(s), " "))
}

// Agreement is the mean similarity between the primary output's summary
// and each alternative's. Rows with no alternatives, or where any compared
// output is degraded, report ok=false.
func Agreement(row domain.ComparisonRow) (score float64, ok bool) {
	if len(row.AlternativeOutputs) == 0 || row.Outputs.IsFallback() {
		return 0, false
	}
	var sum float64
	for _, alt := range row.AlternativeOutputs {
		if alt.IsFallback() {
			return 0, false
		}
		sum += SummarySimilarity(row.Outputs.Parsed.OverallSummary, alt.Parsed.OverallSummary)
	}
	return sum / float64(len(row.AlternativeOutputs)), true
}
