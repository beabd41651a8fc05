package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Slot identifiers name the role an output plays in a row. Display labels
// are attached to slots, not to content, so a rename applies to every row.
const (
	SlotReference = "reference"
	SlotMain      = "main"
	altSlotPrefix = "alt_"
)

// Winner ids that do not name a slot.
const (
	WinnerTie       = "tie"
	WinnerUndefined = "undefined"
)

// Confidence bounds for a ComparisonResult.
const (
	MinConfidence     = 1
	MaxConfidence     = 5
	DefaultConfidence = 3
)

// AltSlot returns the slot identifier of the i-th alternative output.
func AltSlot(i int) string { return fmt.Sprintf("%s%d", altSlotPrefix, i) }

// IsSlotID reports whether id has the shape of a slot identifier.
func IsSlotID(id string) bool {
	if id == SlotReference || id == SlotMain {
		return true
	}
	rest, ok := strings.CutPrefix(id, altSlotPrefix)
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ComparisonOutput is one model's answer for one row. Exactly one of Parsed
// and Fallback is set once the row assembler is done with it.
type ComparisonOutput struct {
	// Output is the raw cell text, or the stringified wrapper payload.
	Output string
	// Parsed is the normalized suggestion set when extraction succeeded.
	Parsed *SuggestionSet
	// Fallback carries provenance when extraction failed.
	Fallback *Fallback
	// Label is the display name reported by the data or derived from the
	// column header.
	Label string
}

// IsFallback reports whether the output is a recovered-but-degraded record.
// Consumers must check it before trusting Parsed.
func (o ComparisonOutput) IsFallback() bool { return o.Fallback != nil || o.Parsed == nil }

// Suggestions returns the parsed suggestions, or nil for degraded outputs.
func (o ComparisonOutput) Suggestions() []SuggestionItem {
	if o.IsFallback() {
		return nil
	}
	return o.Parsed.CodeSuggestions
}

type comparisonOutputJSON struct {
	Output string `json:"output"`
	Parsed any    `json:"parsed,omitempty"`
	Label  string `json:"label"`
}

// MarshalJSON encodes the degraded case as the placeholder object so the
// "parsed.fallback" sentinel survives serialization.
func (o ComparisonOutput) MarshalJSON() ([]byte, error) {
	out := comparisonOutputJSON{Output: o.Output, Label: o.Label}
	switch {
	case o.Fallback != nil:
		out.Parsed = o.Fallback.Placeholder()
	case o.Parsed != nil:
		out.Parsed = o.Parsed.Normalize()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores either a parsed set or a Fallback from the encoded
// form written by MarshalJSON.
func (o *ComparisonOutput) UnmarshalJSON(data []byte) error {
	var raw struct {
		Output string          `json:"output"`
		Parsed json.RawMessage `json:"parsed"`
		Label  string          `json:"label"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = ComparisonOutput{Output: raw.Output, Label: raw.Label}
	if len(raw.Parsed) == 0 || string(raw.Parsed) == "null" {
		return nil
	}

	var head struct {
		Fallback bool `json:"fallback"`
	}
	if err := json.Unmarshal(raw.Parsed, &head); err == nil && head.Fallback {
		var fb Fallback
		if err := json.Unmarshal(raw.Parsed, &fb); err != nil {
			return err
		}
		o.Fallback = &fb
		return nil
	}

	var set SuggestionSet
	if err := json.Unmarshal(raw.Parsed, &set); err != nil {
		return err
	}
	set = set.Normalize()
	o.Parsed = &set
	return nil
}

// ComparisonRow bundles every model's output for one input sample. Rows are
// immutable once assembled; judgments are stored separately by row id.
type ComparisonRow struct {
	ID                 string             `json:"id"`
	Inputs             any                `json:"inputs"`
	Outputs            ComparisonOutput   `json:"outputs"`
	ReferenceOutputs   *ComparisonOutput  `json:"reference_outputs,omitempty"`
	AlternativeOutputs []ComparisonOutput `json:"alternativeOutputs,omitempty"`
}

// Option is one selectable output of a row.
type Option struct {
	Slot   string
	Output ComparisonOutput
}

// Options lists the row's selectable outputs in display order: the
// reference when present, then the primary output, then alternatives.
func (r ComparisonRow) Options() []Option {
	opts := make([]Option, 0, 2+len(r.AlternativeOutputs))
	if r.ReferenceOutputs != nil {
		opts = append(opts, Option{Slot: SlotReference, Output: *r.ReferenceOutputs})
	}
	opts = append(opts, Option{Slot: SlotMain, Output: r.Outputs})
	for i, alt := range r.AlternativeOutputs {
		opts = append(opts, Option{Slot: AltSlot(i), Output: alt})
	}
	return opts
}

// Option returns the output occupying slot.
func (r ComparisonRow) Option(slot string) (ComparisonOutput, bool) {
	for _, opt := range r.Options() {
		if opt.Slot == slot {
			return opt.Output, true
		}
	}
	return ComparisonOutput{}, false
}

// ComparisonResult is a user judgment for one row. At most one exists per
// row id; the latest write wins.
type ComparisonResult struct {
	RowID       string    `json:"rowId" validate:"required"`
	WinnerID    string    `json:"winnerId" validate:"required"`
	WinnerLabel string    `json:"winnerLabel"`
	Confidence  int       `json:"confidence" validate:"min=1,max=5"`
	Reasoning   string    `json:"reasoning,omitempty" validate:"max=4000"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasWinner reports whether the result names an actual output rather than
// a tie or an undecided marker.
func (c ComparisonResult) HasWinner() bool {
	return c.WinnerID != WinnerTie && c.WinnerID != WinnerUndefined
}
