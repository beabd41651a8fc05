package application

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// Export document types.
const (
	ExportKindFeedback = "suggestion_feedbacks"
	ExportKindAB       = "ab_test_results"
)

// FeedbackExport is the JSON-mode review export.
type FeedbackExport struct {
	Type             string                      `json:"type"`
	ExportID         string                      `json:"exportId"`
	TotalSuggestions int                         `json:"totalSuggestions"`
	ReviewedCount    int                         `json:"reviewedCount"`
	ApprovedCount    int                         `json:"approvedCount"`
	RejectedCount    int                         `json:"rejectedCount"`
	Feedbacks        []domain.SuggestionFeedback `json:"feedbacks"`
	Timestamp        time.Time                   `json:"timestamp"`
}

// ABExport is the comparison-mode export.
type ABExport struct {
	Type      string                    `json:"type"`
	ExportID  string                    `json:"exportId"`
	Stats     Stats                     `json:"stats"`
	Results   []domain.ComparisonResult `json:"results"`
	Labels    map[string]string         `json:"labels"`
	Timestamp time.Time                 `json:"timestamp"`
}

// ExportFeedbacks builds the feedback export for a JSON-mode session.
// Feedbacks are listed in review item order.
func ExportFeedbacks(s *Session) FeedbackExport {
	snap := s.Snapshot()
	out := FeedbackExport{
		Type:             ExportKindFeedback,
		ExportID:         uuid.NewString(),
		TotalSuggestions: len(s.doc.Items),
		Feedbacks:        []domain.SuggestionFeedback{},
		Timestamp:        s.now().UTC(),
	}
	for _, item := range s.doc.Items {
		fb, ok := snap.Feedbacks.Get(item.ID)
		if !ok {
			continue
		}
		out.Feedbacks = append(out.Feedbacks, fb)
		out.ReviewedCount++
		if fb.Approved {
			out.ApprovedCount++
		} else {
			out.RejectedCount++
		}
	}
	return out
}

// ExportAB builds the A/B results export for a CSV session. Results are
// listed in row order.
func ExportAB(s *Session) ABExport {
	snap := s.Snapshot()
	var rows []domain.ComparisonRow
	if s.doc.Batch != nil {
		rows = s.doc.Batch.Rows
	}
	out := ABExport{
		Type:      ExportKindAB,
		ExportID:  uuid.NewString(),
		Stats:     ComputeStats(rows, snap.Results, snap.Labels),
		Results:   []domain.ComparisonResult{},
		Labels:    snap.Labels.Snapshot(),
		Timestamp: s.now().UTC(),
	}
	for _, row := range rows {
		if res, ok := snap.Results.Get(row.ID); ok {
			out.Results = append(out.Results, res)
		}
	}
	return out
}

// Export builds the export matching the session's document mode.
func Export(s *Session) any {
	if s.doc.Mode == ModeJSON {
		return ExportFeedbacks(s)
	}
	return ExportAB(s)
}

// ExportFileName suggests a dated file name for an export document.
func ExportFileName(kind string, at time.Time) string {
	prefix := "ab-test-results"
	if kind == ExportKindFeedback {
		prefix = "suggestion-feedback"
	}
	return fmt.Sprintf("%s-%s.json", prefix, at.UTC().Format(time.DateOnly))
}
