// Package rating converts probabilities of default into letter ratings.
//
// A batch is rated in one pass: absolute PD edges are derived from the
// batch itself, each entity is ranked inside its cohort, the two views are
// blended, and a bounded sector overlay is applied on top. An Engine holds
// only immutable configuration and is safe for concurrent use.
package rating

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SharesToQuantiles turns per-rating percentages into cumulative cutoffs.
// Each cutoff is clamped to [0,1] and the worst rating always ends at 1.0.
// Ratings missing from shares count as zero.
func SharesToQuantiles(scale domain.Scale, shares domain.TargetShares) domain.QuantileTargets {
	targets := make(domain.QuantileTargets, len(scale))
	acc := 0.0
	for _, r := range scale {
		acc += shares[r] / 100
		targets[r] = clip(acc, 0, 1)
	}
	if len(scale) > 0 {
		targets[scale.Worst()] = 1.0
	}
	return targets
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
