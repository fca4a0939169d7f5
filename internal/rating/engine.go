package rating

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine rates batches under one RatingPolicy.
type Engine struct {
	policy  domain.RatingPolicy
	targets domain.QuantileTargets
	sectors *SectorClassifier
}

// NewEngine creates an engine for policy. A nil policy selects
// domain.DefaultRatingPolicy. The policy is copied; later changes to it do
// not affect the engine.
func NewEngine(policy *domain.RatingPolicy) *Engine {
	if policy == nil {
		policy = domain.DefaultRatingPolicy()
	}
	p := clonePolicy(policy)
	if p.BlendTies != domain.BlendTiesEven {
		p.BlendTies = domain.BlendTiesWorse
	}

	return &Engine{
		policy:  p,
		targets: SharesToQuantiles(p.Scale, p.TargetShares),
		sectors: NewSectorClassifier(p.SectorRules),
	}
}

// Policy returns a copy of the engine's policy.
func (e *Engine) Policy() *domain.RatingPolicy {
	p := clonePolicy(&e.policy)
	return &p
}

// Scale returns the rating scale.
func (e *Engine) Scale() domain.Scale {
	return append(domain.Scale(nil), e.policy.Scale...)
}

// Targets returns a copy of the cumulative quantile cutoffs.
func (e *Engine) Targets() domain.QuantileTargets {
	out := make(domain.QuantileTargets, len(e.targets))
	for k, v := range e.targets {
		out[k] = v
	}
	return out
}

// Blend blends two ratings with the engine's tie rule.
func (e *Engine) Blend(a, b domain.Rating) domain.Rating {
	return Blend(e.policy.Scale, a, b, e.policy.BlendTies)
}

func clonePolicy(p *domain.RatingPolicy) domain.RatingPolicy {
	out := domain.RatingPolicy{
		Scale:        append(domain.Scale(nil), p.Scale...),
		TargetShares: make(domain.TargetShares, len(p.TargetShares)),
		Caps:         p.Caps,
		SectorRules:  make([]domain.SectorRule, len(p.SectorRules)),
		BlendTies:    p.BlendTies,
	}
	for k, v := range p.TargetShares {
		out.TargetShares[k] = v
	}
	for i, r := range p.SectorRules {
		out.SectorRules[i] = domain.SectorRule{
			Name:     r.Name,
			Keywords: append([]string(nil), r.Keywords...),
			Bonus:    r.Bonus,
		}
	}
	return out
}
