package rating

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ApplySectorOverlay improves base by the sector bonus that pd allows and
// returns the new rating with the allowed bonus.
func (e *Engine) ApplySectorOverlay(base domain.Rating, pd float64, sector string) (domain.Rating, int) {
	ceiling := e.sectors.Bonus(sector)
	caps := e.policy.Caps

	var allowed int
	switch {
	case pd >= caps.NoBonusIfPDGE:
		allowed = 0
	case pd >= caps.MaxBonusIfPDGE:
		allowed = min(ceiling, caps.MaxBonusMid)
	default:
		allowed = ceiling
	}
	if allowed < 0 {
		allowed = 0
	}

	idx := max(0, e.policy.Scale.Index(base)-allowed)
	return e.policy.Scale.At(idx), allowed
}

// CapVsAbsolute keeps overlay within MaxUpOverAbs notches above absolute.
func (e *Engine) CapVsAbsolute(overlay, absolute domain.Rating) domain.Rating {
	scale := e.policy.Scale
	floor := max(0, scale.Index(absolute)-e.policy.Caps.MaxUpOverAbs)
	if idx := scale.Index(overlay); idx < floor {
		return scale.At(floor)
	}
	return overlay
}
