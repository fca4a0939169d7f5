package domain

import (
	"fmt"
	"math"
)

// Validate inspects the policy and returns human-readable warnings.
// None of the findings stop the engine: unknown ratings fall back to the
// worst grade and odd shares produce clamped cutoffs.
func (p *RatingPolicy) Validate() []string {
	var warnings []string

	if len(p.Scale) == 0 {
		warnings = append(warnings, "rating scale is empty")
	}

	seen := make(map[Rating]bool, len(p.Scale))
	for _, r := range p.Scale {
		if seen[r] {
			warnings = append(warnings, fmt.Sprintf("rating %q appears twice on the scale", r))
		}
		seen[r] = true
	}

	total := 0.0
	for r, share := range p.TargetShares {
		if !p.Scale.Contains(r) {
			warnings = append(warnings, fmt.Sprintf("target share for unknown rating %q is ignored", r))
			continue
		}
		if share < 0 {
			warnings = append(warnings, fmt.Sprintf("target share for %s is negative (%.2f)", r, share))
		}
		total += share
	}
	if math.Abs(total-100) > 1e-6 {
		warnings = append(warnings, fmt.Sprintf("target shares sum to %.2f, not 100", total))
	}

	if p.Caps.NoBonusIfPDGE < p.Caps.MaxBonusIfPDGE {
		warnings = append(warnings, "no_bonus_if_pd_ge is below max_bonus_if_pd_ge")
	}
	if p.Caps.MaxUpOverAbs < 0 {
		warnings = append(warnings, "max_up_over_abs is negative")
	}

	for _, rule := range p.SectorRules {
		if len(rule.Keywords) == 0 {
			warnings = append(warnings, fmt.Sprintf("sector rule %q has no keywords", rule.Name))
		}
		if rule.Bonus < 0 {
			warnings = append(warnings, fmt.Sprintf("sector rule %q has a negative bonus", rule.Name))
		}
	}

	switch p.BlendTies {
	case "", BlendTiesWorse, BlendTiesEven:
	default:
		warnings = append(warnings, fmt.Sprintf("unknown blend_ties %q, using %q", p.BlendTies, BlendTiesWorse))
	}

	return warnings
}
