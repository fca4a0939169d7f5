package rating

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Blend averages the scale positions of a and b. Exact halves go to the
// worse rating unless ties is BlendTiesEven.
func Blend(scale domain.Scale, a, b domain.Rating, ties domain.BlendTies) domain.Rating {
	sum := scale.Index(a) + scale.Index(b)
	var idx int
	if ties == domain.BlendTiesEven {
		idx = int(math.RoundToEven(float64(sum) / 2))
	} else {
		idx = (sum + 1) / 2
	}
	return scale.At(idx)
}
