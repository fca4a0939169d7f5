package domain

// Rating is a letter grade on a rating scale.
type Rating string

// Default rating symbols, best to worst.
const (
	RatingAAA Rating = "AAA"
	RatingAA  Rating = "AA"
	RatingA   Rating = "A"
	RatingBBB Rating = "BBB"
	RatingBB  Rating = "BB"
	RatingB   Rating = "B"
	RatingCCC Rating = "CCC"
	RatingCC  Rating = "CC"
	RatingC   Rating = "C"
)

// Scale is an ordered list of ratings. Index 0 is the best rating and the
// last index is the worst, which also catches any rating not on the scale.
type Scale []Rating

// DefaultScale returns the nine-grade scale AAA..C.
func DefaultScale() Scale {
	return Scale{
		RatingAAA, RatingAA, RatingA,
		RatingBBB, RatingBB, RatingB,
		RatingCCC, RatingCC, RatingC,
	}
}

// Index returns the position of r on the scale.
// Ratings not on the scale map to the worst position.
func (s Scale) Index(r Rating) int {
	for i, v := range s {
		if v == r {
			return i
		}
	}
	return len(s) - 1
}

// At returns the rating at position i, clamped into the scale.
func (s Scale) At(i int) Rating {
	if len(s) == 0 {
		return ""
	}
	if i < 0 {
		i = 0
	}
	if i > len(s)-1 {
		i = len(s) - 1
	}
	return s[i]
}

// Contains reports whether r is on the scale.
func (s Scale) Contains(r Rating) bool {
	for _, v := range s {
		if v == r {
			return true
		}
	}
	return false
}

// Best returns the best rating on the scale.
func (s Scale) Best() Rating {
	return s.At(0)
}

// Worst returns the worst rating on the scale.
func (s Scale) Worst() Rating {
	return s.At(len(s) - 1)
}

// TargetShares maps each rating to the percentage of the population expected
// at that rating. Values are weights; they are not required to sum to 100.
type TargetShares map[Rating]float64

// QuantileTargets maps each rating to the cumulative population fraction at
// which that rating ends. Values are non-decreasing along the scale.
type QuantileTargets map[Rating]float64

// Edges maps each rating to the upper PD boundary of that rating.
type Edges map[Rating]float64

// OverlayCaps bounds the sector overlay.
type OverlayCaps struct {
	// NoBonusIfPDGE denies any sector bonus when PD is at or above it.
	NoBonusIfPDGE float64 `json:"noBonusIfPdGe" yaml:"no_bonus_if_pd_ge"`

	// MaxBonusIfPDGE caps the bonus to MaxBonusMid when PD is at or above it.
	MaxBonusIfPDGE float64 `json:"maxBonusIfPdGe" yaml:"max_bonus_if_pd_ge"`

	// MaxBonusMid is the bonus ceiling between the two thresholds.
	MaxBonusMid int `json:"maxBonusMid" yaml:"max_bonus_mid"`

	// MaxUpOverAbs is the number of notches the final rating may sit above
	// the absolute rating.
	MaxUpOverAbs int `json:"maxUpOverAbs" yaml:"max_up_over_abs"`
}

// SectorRule grants a bonus to sectors whose normalized label contains one
// of the keywords. Rules are evaluated in order; the first match wins.
type SectorRule struct {
	Name     string   `json:"name" yaml:"name"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Bonus    int      `json:"bonus" yaml:"bonus"`
}

// BlendTies selects how the blender breaks exact halves.
type BlendTies string

const (
	// BlendTiesWorse rounds halves toward the worse rating.
	BlendTiesWorse BlendTies = "worse"

	// BlendTiesEven rounds halves to the even index.
	BlendTiesEven BlendTies = "even"
)

// RatingPolicy is the full configuration of the rating engine.
type RatingPolicy struct {
	Scale        Scale        `json:"scale" yaml:"scale"`
	TargetShares TargetShares `json:"targetShares" yaml:"target_shares"`
	Caps         OverlayCaps  `json:"caps" yaml:"caps"`
	SectorRules  []SectorRule `json:"sectorRules" yaml:"sector_rules"`
	BlendTies    BlendTies    `json:"blendTies,omitempty" yaml:"blend_ties,omitempty"`
}

// DefaultRatingPolicy returns the standard policy.
func DefaultRatingPolicy() *RatingPolicy {
	return &RatingPolicy{
		Scale: DefaultScale(),
		TargetShares: TargetShares{
			RatingAAA: 7,
			RatingAA:  12,
			RatingA:   16,
			RatingBBB: 20,
			RatingBB:  18,
			RatingB:   13,
			RatingCCC: 8,
			RatingCC:  4,
			RatingC:   2,
		},
		Caps: OverlayCaps{
			NoBonusIfPDGE:  0.70,
			MaxBonusIfPDGE: 0.25,
			MaxBonusMid:    2,
			MaxUpOverAbs:   3,
		},
		SectorRules: DefaultSectorRules(),
		BlendTies:   BlendTiesWorse,
	}
}

// DefaultSectorRules returns the sector bonus rules in priority order.
func DefaultSectorRules() []SectorRule {
	return []SectorRule{
		{Name: "utilities", Keywords: []string{"eau", "electric", "energie", "utility", "electricite"}, Bonus: 2},
		{Name: "telecom", Keywords: []string{"telecom"}, Bonus: 2},
		{Name: "finance", Keywords: []string{"banque", "bank", "finance", "assur"}, Bonus: 1},
		{Name: "industry", Keywords: []string{"industrie", "manufact", "services", "transport", "logist", "agro", "mines"}, Bonus: 1},
	}
}
