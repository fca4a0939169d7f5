package rating

import (
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CohortPercentiles returns the percentile rank of every PD within its
// cohort, rank/n in (0,1], with tied PDs sharing their average rank.
// Labels are compared as given; blank labels form a single cohort of their
// own.
func CohortPercentiles(pds []float64, cohorts []string) []float64 {
	groups := make(map[string][]int)
	for i := range pds {
		var key string
		if i < len(cohorts) && strings.TrimSpace(cohorts[i]) != "" {
			key = cohorts[i]
		}
		groups[key] = append(groups[key], i)
	}

	out := make([]float64, len(pds))
	for _, members := range groups {
		rankGroup(pds, members, out)
	}
	return out
}

// rankGroup writes average ranks divided by the group size into out.
func rankGroup(pds []float64, members []int, out []float64) {
	idx := append([]int(nil), members...)
	sort.SliceStable(idx, func(a, b int) bool {
		return pds[idx[a]] < pds[idx[b]]
	})

	n := float64(len(idx))
	for start := 0; start < len(idx); {
		end := start + 1
		for end < len(idx) && pds[idx[end]] == pds[idx[start]] {
			end++
		}
		// positions start..end-1 hold ranks start+1..end
		avg := float64(start+1+end) / 2
		for _, i := range idx[start:end] {
			out[i] = avg / n
		}
		start = end
	}
}

// QuantileRating returns the first rating whose cumulative cutoff is at or
// above u, or the worst rating.
func QuantileRating(scale domain.Scale, targets domain.QuantileTargets, u float64) domain.Rating {
	for _, r := range scale {
		if u <= targets[r] {
			return r
		}
	}
	return scale.Worst()
}
