package review

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// severityGroups are checked in order; the first group with a keyword
// contained in the label wins.
var severityGroups = []struct {
	severity domain.Severity
	keywords []string
}{
	{domain.SeverityCritical, []string{"critical", "security", "vulnerability", "exploit"}},
	{domain.SeverityError, []string{"error", "bug", "fix", "crash", "fail"}},
	{domain.SeverityWarning, []string{"warning", "deprecated", "performance", "slow", "memory"}},
	{domain.SeverityInfo, []string{"info", "documentation", "comment", "style", "format"}},
}

// severityTable holds code-review labels that no keyword group catches,
// matched by substring in this order.
var severityTable = []struct {
	key      string
	severity domain.Severity
}{
	{"refactoring", domain.SeverityInfo},
	{"optimization", domain.SeverityWarning},
	{"maintainability", domain.SeverityInfo},
	{"readability", domain.SeverityInfo},
	{"code_smell", domain.SeverityWarning},
	{"best_practices", domain.SeverityInfo},
	{"naming", domain.SeverityInfo},
	{"duplication", domain.SeverityWarning},
	{"complexity", domain.SeverityWarning},
	{"type_safety", domain.SeverityError},
	{"null_pointer", domain.SeverityError},
	{"resource_leak", domain.SeverityCritical},
	{"injection", domain.SeverityCritical},
	{"xss", domain.SeverityCritical},
}

// InferSeverity classifies a suggestion label. A nil label is a plain
// suggestion.
func InferSeverity(label *string) domain.Severity {
	if label == nil {
		return domain.SeveritySuggestion
	}
	return InferSeverityString(*label)
}

// InferSeverityString classifies label by case-insensitive keyword groups,
// then by the label table, defaulting to domain.SeveritySuggestion.
func InferSeverityString(label string) domain.Severity {
	key := normalizeLabel(label)
	if key == "" {
		return domain.SeveritySuggestion
	}
	for _, g := range severityGroups {
		for _, kw := range g.keywords {
			if strings.Contains(key, kw) {
				return g.severity
			}
		}
	}
	for _, e := range severityTable {
		if strings.Contains(key, e.key) {
			return e.severity
		}
	}
	return domain.SeveritySuggestion
}

func normalizeLabel(label string) string {
	return fold(norm.NFKC.String(strings.TrimSpace(label)))
}

// fold builds a fresh Caser per call; a Caser carries state and must not be
// shared between goroutines.
func fold(s string) string { return cases.Fold().String(s) }

// severityRank orders severities from most to least urgent.
var severityRank = map[domain.Severity]int{
	domain.SeverityCritical:   0,
	domain.SeverityError:      1,
	domain.SeverityWarning:    2,
	domain.SeverityInfo:       3,
	domain.SeveritySuggestion: 4,
}

// Rank returns the sort position of s, most urgent first. Unknown values
// sort last.
func Rank(s domain.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// SeverityCounts tallies the inferred severity of every item.
func SeverityCounts(items []domain.SuggestionItem) map[domain.Severity]int {
	counts := make(map[domain.Severity]int, len(severityRank))
	for _, it := range items {
		counts[InferSeverityString(it.Label)]++
	}
	return counts
}
