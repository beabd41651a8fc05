package judge

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// SystemPrompt is sent as the system message of every judge request.
const SystemPrompt = "You review automated code review suggestions. " +
	"Compare the candidate outputs for the same input and decide which one a careful senior engineer would rather receive. " +
	"Prefer suggestions that are correct, specific and actionable over ones that are numerous or verbose. " +
	"Reply with a single JSON object and nothing else."

// DefaultPrompt is the built-in template. It is executed with PromptData.
const DefaultPrompt = `## Input under review
{{.Input}}

## Candidate outputs
{{range .Options}}
### Option "{{.Slot}}"
{{- if .Degraded}}
(The output could not be parsed. Raw text follows.)
{{truncate .Raw $.MaxChars}}
{{- else if not .Suggestions}}
(No suggestions.)
{{- else}}
{{- if .Summary}}
Summary: {{.Summary}}
{{- end}}
{{range $i, $s := .Suggestions}}
{{add $i 1}}. [{{severity $s.Label}}] {{$s.RelevantFile}}{{with lines $s.RelevantLinesStart $s.RelevantLinesEnd}}:{{.}}{{end}}
   {{trim $s.OneSentenceSummary}}
{{- if $s.SuggestionContent}}
   {{truncate (trim $s.SuggestionContent) $.MaxChars}}
{{- end}}
{{- if $s.ImprovedCode}}
   Proposed code:
{{indent 6 (truncate $s.ImprovedCode $.MaxChars)}}
{{- end}}
{{end}}
{{- end}}
{{end}}
## Answer format
Respond with JSON only:
{"winner": "<one of: {{join .Slots ", "}}, tie>", "confidence": <integer 1-5>, "reasoning": "<two or three sentences>"}
`

// PromptData is the value prompt templates are executed with.
type PromptData struct {
	RowID    string
	Input    string
	Options  []OptionData
	Slots    []string
	MaxChars int
}

// OptionData describes one candidate output.
type OptionData struct {
	Slot        string
	Degraded    bool
	Raw         string
	Summary     string
	Suggestions []domain.SuggestionItem
}

// newPromptData lists row's options in slot order, or in reverse when
// reversed is set. Slot ids stay attached to their outputs either way.
func newPromptData(row domain.ComparisonRow, maxChars int, reversed bool) (PromptData, error) {
	opts := row.Options()
	if len(opts) < 2 {
		return PromptData{}, ErrNoOptions
	}
	if reversed {
		slices.Reverse(opts)
	}

	data := PromptData{
		RowID:    row.ID,
		Input:    domain.Truncate(renderInput(row.Inputs), maxChars),
		MaxChars: maxChars,
	}
	for _, opt := range opts {
		od := OptionData{Slot: opt.Slot, Degraded: opt.Output.IsFallback(), Raw: opt.Output.Output}
		if !od.Degraded {
			od.Summary = opt.Output.Parsed.OverallSummary
			od.Suggestions = opt.Output.Parsed.CodeSuggestions
		}
		data.Options = append(data.Options, od)
		data.Slots = append(data.Slots, opt.Slot)
	}
	return data, nil
}

func renderInput(inputs any) string {
	switch v := inputs.(type) {
	case nil:
		return "(none)"
	case string:
		return v
	}
	b, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return fmt.Sprint(inputs)
	}
	return string(b)
}
