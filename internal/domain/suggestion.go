// Package domain contains pure, dependency-free domain models and types
// for reviewing and comparing AI-generated code suggestions.
package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Severity classifies how urgent a suggestion is. It is inferred from the
// free-text label attached to a SuggestionItem.
type Severity string

// Known severities ordered from most to least urgent.
const (
	SeverityCritical   Severity = "critical"
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeverityInfo       Severity = "info"
	SeveritySuggestion Severity = "suggestion"
)

// LineNumber is a 1-based source line that tolerates the shapes models
// actually emit: a JSON number, a numeric string, or null.
type LineNumber int

// UnmarshalJSON accepts numbers and numeric strings. Anything else decodes
// to zero without error so one malformed field never discards the whole
// suggestion.
func (l *LineNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*l = LineNumber(int(n))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			*l = LineNumber(v)
		}
	}
	return nil
}

// SuggestionItem is one actionable code-review suggestion.
type SuggestionItem struct {
	RelevantFile       string      `json:"relevantFile"`
	Language           string      `json:"language,omitempty"`
	SuggestionContent  string      `json:"suggestionContent"`
	ExistingCode       string      `json:"existingCode,omitempty"`
	ImprovedCode       string      `json:"improvedCode,omitempty"`
	OneSentenceSummary string      `json:"oneSentenceSummary"`
	RelevantLinesStart *LineNumber `json:"relevantLinesStart,omitempty"`
	RelevantLinesEnd   *LineNumber `json:"relevantLinesEnd,omitempty"`
	Label              string      `json:"label"`
}

// Valid reports whether the optional line range is coherent. Either bound
// may be absent; when both are present start must not exceed end.
func (s SuggestionItem) Valid() bool {
	if s.RelevantLinesStart == nil || s.RelevantLinesEnd == nil {
		return true
	}
	return *s.RelevantLinesStart <= *s.RelevantLinesEnd
}

// HasCodeChange reports whether the suggestion carries a before/after pair
// that can be rendered as a diff.
func (s SuggestionItem) HasCodeChange() bool {
	return s.ExistingCode != "" || s.ImprovedCode != ""
}

// SuggestionSet is the canonical normalized document every ingestion path
// converges to.
type SuggestionSet struct {
	OverallSummary  string           `json:"overallSummary"`
	CodeSuggestions []SuggestionItem `json:"codeSuggestions"`
}

// Normalize returns a copy whose CodeSuggestions slice is never nil.
func (s SuggestionSet) Normalize() SuggestionSet {
	if s.CodeSuggestions == nil {
		s.CodeSuggestions = []SuggestionItem{}
	}
	return s
}

// SuggestionFeedback records a reviewer's verdict on one suggestion set in
// JSON mode.
type SuggestionFeedback struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}
