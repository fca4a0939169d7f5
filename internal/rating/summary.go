package rating

import (
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarize describes the final-rating distribution of results. Healthy
// and Defaulted are left for the caller to fill.
func (e *Engine) Summarize(results []domain.RatingResult) domain.BatchSummary {
	summary := domain.BatchSummary{
		Distribution:   make(map[domain.Rating]int, len(e.policy.Scale)),
		MeanPDByRating: make(map[domain.Rating]float64),
	}
	for _, r := range e.policy.Scale {
		summary.Distribution[r] = 0
	}
	if len(results) == 0 {
		return summary
	}

	pds := make([]float64, len(results))
	byRating := make(map[domain.Rating][]float64)
	for i, r := range results {
		pds[i] = r.PD
		summary.Distribution[r.Final]++
		byRating[r.Final] = append(byRating[r.Final], r.PD)
	}

	summary.MeanPD, summary.StdDevPD = stat.MeanStdDev(pds, nil)
	if len(pds) < 2 {
		summary.StdDevPD = 0
	}
	for r, values := range byRating {
		summary.MeanPDByRating[r] = stat.Mean(values, nil)
	}
	summary.Edges = QuantileEdges(e.policy.Scale, e.targets, pds)
	return summary
}
