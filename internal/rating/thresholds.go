package rating

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// QuantileEdges computes the upper PD edge of every rating as the sample
// quantile of pds at that rating's cutoff. The worst edge is always 1.0.
// With no PDs every other edge is NaN.
func QuantileEdges(scale domain.Scale, targets domain.QuantileTargets, pds []float64) domain.Edges {
	sorted := make([]float64, 0, len(pds))
	for _, p := range pds {
		if !math.IsNaN(p) {
			sorted = append(sorted, p)
		}
	}
	sort.Float64s(sorted)

	edges := make(domain.Edges, len(scale))
	for _, r := range scale {
		edges[r] = quantile7(sorted, targets[r])
	}
	if len(scale) > 0 {
		edges[scale.Worst()] = 1.0
	}
	return edges
}

// quantile7 interpolates linearly between order statistics at h = (n-1)q.
// sorted must be ascending.
func quantile7(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	q = clip(q, 0, 1)
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// AbsoluteRating returns the first rating whose band (previous edge, edge]
// contains p. The best band is open below. When nothing matches the worst
// rating is returned.
func AbsoluteRating(scale domain.Scale, p float64, edges domain.Edges) domain.Rating {
	if math.IsNaN(p) {
		return scale.Worst()
	}
	lo := math.Inf(-1)
	for _, r := range scale {
		hi, ok := edges[r]
		if !ok {
			hi = math.NaN()
		}
		if p > lo && p <= hi {
			return r
		}
		lo = hi
	}
	return scale.Worst()
}
