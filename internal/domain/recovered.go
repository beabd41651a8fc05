package domain

// FallbackPreviewLimit bounds how much of the original text a Fallback keeps.
const FallbackPreviewLimit = 500

// Fallback is the diagnostic record produced when every repair strategy
// failed. It is surfaced as data, never as an error.
type Fallback struct {
	Context      string `json:"context"`
	OriginalData string `json:"originalData"`
	ErrorMessage string `json:"errorMessage"`
}

// NewFallback builds a Fallback, truncating the original text to
// FallbackPreviewLimit characters with a trailing ellipsis when cut.
func NewFallback(context, original, errMsg string) *Fallback {
	return &Fallback{
		Context:      context,
		OriginalData: Truncate(original, FallbackPreviewLimit),
		ErrorMessage: errMsg,
	}
}

// Placeholder converts the Fallback into the object shape handed to
// consumers. The "fallback" key is the sentinel they must check before
// trusting any other field.
func (f *Fallback) Placeholder() map[string]any {
	return map[string]any{
		"fallback":     true,
		"context":      f.Context,
		"originalData": f.OriginalData,
		"errorMessage": f.ErrorMessage,
	}
}

// RecoveredValue is the tagged result of running the recovery cascade: either
// a parsed JSON value or a Fallback. Exactly one of Value and Fallback is set.
type RecoveredValue struct {
	// Value holds the decoded JSON when recovery succeeded.
	Value any
	// Strategy names the cascade tier that produced Value, or "fallback".
	Strategy string
	// Fallback is non-nil when every tier failed.
	Fallback *Fallback
}

// Parsed wraps a successfully decoded value.
func Parsed(value any, strategy string) RecoveredValue {
	return RecoveredValue{Value: value, Strategy: strategy}
}

// Failed wraps a Fallback.
func Failed(fb *Fallback) RecoveredValue {
	return RecoveredValue{Strategy: "fallback", Fallback: fb}
}

// IsFallback reports whether recovery failed.
func (r RecoveredValue) IsFallback() bool { return r.Fallback != nil }

// Unwrap returns the usable value: the parsed structure, or the Fallback
// placeholder object.
func (r RecoveredValue) Unwrap() any {
	if r.Fallback != nil {
		return r.Fallback.Placeholder()
	}
	return r.Value
}

// Truncate cuts s to at most limit runes, appending "..." when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
