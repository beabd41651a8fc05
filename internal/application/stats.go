package application

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/ahrav/go-arbiter/internal/domain"
)

// ModelPerformance is one label's record across decided rows.
type ModelPerformance struct {
	Label   string  `json:"label"`
	Wins    int     `json:"wins"`
	Total   int     `json:"total"`
	WinRate float64 `json:"winRate"`
}

// Stats summarizes the decisions taken on a batch.
type Stats struct {
	TotalComparisons     int `json:"totalComparisons"`
	CompletedComparisons int `json:"completedComparisons"`
	Decided              int `json:"decided"`
	Ties                 int `json:"ties"`
	Undefined            int `json:"undefined"`
	// Ranking is ordered by win rate, then wins, then label.
	Ranking                []ModelPerformance `json:"ranking"`
	AverageConfidence      float64            `json:"averageConfidence"`
	ConfidenceStdDev       float64            `json:"confidenceStdDev"`
	ConfidenceDistribution map[int]int        `json:"confidenceDistribution"`
}

// ComputeStats tallies results against rows. A win counts for the winner
// label of every row decided for an actual output. Every label shown in a
// decided row has its total incremented, so the win rate reads as "how
// often this label won when it was on the table". Ties and undefined
// outcomes are counted separately and contribute to confidence only.
// Results for row ids absent from rows are ignored.
func ComputeStats(rows []domain.ComparisonRow, results domain.ResultMap, labels domain.LabelMap) Stats {
	st := Stats{
		TotalComparisons:       len(rows),
		ConfidenceDistribution: make(map[int]int, domain.MaxConfidence),
	}
	for level := domain.MinConfidence; level <= domain.MaxConfidence; level++ {
		st.ConfidenceDistribution[level] = 0
	}

	perf := make(map[string]*ModelPerformance)
	touch := func(label string) *ModelPerformance {
		p, ok := perf[label]
		if !ok {
			p = &ModelPerformance{Label: label}
			perf[label] = p
		}
		return p
	}

	var confidences []float64
	for _, row := range rows {
		rowLabels := make([]string, 0, 2+len(row.AlternativeOutputs))
		for _, opt := range row.Options() {
			label := resolveLabel(labels, nil, row, opt.Slot)
			touch(label)
			if !slices.Contains(rowLabels, label) {
				rowLabels = append(rowLabels, label)
			}
		}

		res, ok := results.Get(row.ID)
		if !ok {
			continue
		}
		st.CompletedComparisons++
		confidences = append(confidences, float64(res.Confidence))
		if _, ok := st.ConfidenceDistribution[res.Confidence]; ok {
			st.ConfidenceDistribution[res.Confidence]++
		}

		switch res.WinnerID {
		case domain.WinnerTie:
			st.Ties++
			continue
		case domain.WinnerUndefined:
			st.Undefined++
			continue
		}
		st.Decided++
		for _, label := range rowLabels {
			touch(label).Total++
		}
		winner := res.WinnerLabel
		if winner == "" {
			winner = resolveLabel(labels, nil, row, res.WinnerID)
		}
		touch(winner).Wins++
	}

	for _, p := range perf {
		if p.Total > 0 {
			p.WinRate = float64(p.Wins) / float64(p.Total)
		}
		st.Ranking = append(st.Ranking, *p)
	}
	slices.SortFunc(st.Ranking, func(a, b ModelPerformance) int {
		return cmp.Or(
			cmp.Compare(b.WinRate, a.WinRate),
			cmp.Compare(b.Wins, a.Wins),
			cmp.Compare(a.Label, b.Label),
		)
	})

	switch len(confidences) {
	case 0:
	case 1:
		st.AverageConfidence = confidences[0]
	default:
		st.AverageConfidence, st.ConfidenceStdDev = stat.MeanStdDev(confidences, nil)
	}
	return st
}

// Leader returns the best ranked label with at least one decided row.
func (s Stats) Leader() (ModelPerformance, bool) {
	for _, p := range s.Ranking {
		if p.Total > 0 {
			return p, true
		}
	}
	return ModelPerformance{}, false
}
