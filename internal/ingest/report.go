package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Report is the diagnostic summary of one assembled batch.
type Report struct {
	// TotalProcessed is the number of rows that were assembled.
	TotalProcessed int `json:"totalProcessed"`

	// TotalSkipped is the number of data rows dropped during assembly.
	TotalSkipped int `json:"totalSkipped"`

	// SkippedLineNumbers lists the starting line of every dropped row.
	SkippedLineNumbers []int `json:"skippedLineNumbers"`

	// Skipped holds the reason each row was dropped, in input order.
	Skipped []*domain.RowError `json:"-"`

	// Degraded counts outputs that survived only as fallback records.
	Degraded int `json:"degraded"`
}

func (r *Report) skip(err *domain.RowError) {
	r.TotalSkipped++
	r.SkippedLineNumbers = append(r.SkippedLineNumbers, err.Line)
	r.Skipped = append(r.Skipped, err)
}

// MarshalJSON always encodes skippedLineNumbers as a list, empty when no
// row was dropped.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	if r.SkippedLineNumbers == nil {
		r.SkippedLineNumbers = []int{}
	}
	return json.Marshal(plain(r))
}

// TotalLines is the number of data rows that were attempted.
func (r Report) TotalLines() int { return r.TotalProcessed + r.TotalSkipped }

// Summary renders a one-line human-readable account of the batch.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d rows processed", r.TotalProcessed, r.TotalLines())
	if r.TotalSkipped > 0 {
		lines := make([]string, len(r.SkippedLineNumbers))
		for i, n := range r.SkippedLineNumbers {
			lines[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(&b, " (%d skipped: lines %s)", r.TotalSkipped, strings.Join(lines, ", "))
	}
	if r.Degraded > 0 {
		fmt.Fprintf(&b, "; %d outputs kept as fallback records", r.Degraded)
	}
	return b.String()
}

// Batch is the result of assembling one input text.
type Batch struct {
	Rows   []domain.ComparisonRow `json:"rows"`
	Report Report                 `json:"report"`
}

// Row returns the row with the given id.
func (b *Batch) Row(id string) (domain.ComparisonRow, bool) {
	for _, r := range b.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return domain.ComparisonRow{}, false
}
