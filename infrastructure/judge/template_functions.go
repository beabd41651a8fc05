package judge

import (
	"strconv"
	"strings"
	"text/template"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/review"
)

// TemplateFuncMap returns the functions available to judge prompt templates.
// Every function is pure and safe for concurrent template execution.
//
//	tmpl, err := template.New("judge").Funcs(TemplateFuncMap()).Parse(prompt)
func TemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// {{add $i 1}} turns a 0-based index into a 1-based one.
		"add": func(a, b int) int { return a + b },

		// {{truncate .Output 2000}} keeps at most n runes and marks the cut.
		"truncate": domain.Truncate,

		// {{indent 4 .ImprovedCode}} prefixes every line with n spaces.
		"indent": func(n int, s string) string {
			if n <= 0 || s == "" {
				return s
			}
			pad := strings.Repeat(" ", n)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},

		"trim":  strings.TrimSpace,
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"join":  func(elems []string, sep string) string { return strings.Join(elems, sep) },

		// {{severity .Label}} maps a free-text label to a known severity.
		"severity": func(label string) string { return string(review.InferSeverityString(label)) },

		// {{lines .RelevantLinesStart .RelevantLinesEnd}} renders "12-18",
		// "12" or "" for missing bounds.
		"lines": lineRange,
	}
}

func lineRange(start, end *domain.LineNumber) string {
	switch {
	case start == nil && end == nil:
		return ""
	case start == nil:
		return strconv.Itoa(int(*end))
	case end == nil || *start == *end:
		return strconv.Itoa(int(*start))
	default:
		return strconv.Itoa(int(*start)) + "-" + strconv.Itoa(int(*end))
	}
}
