package rating

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// SectorClassifier maps free-text sector labels to overlay bonuses.
type SectorClassifier struct {
	rules []domain.SectorRule
}

// NewSectorClassifier folds the rule keywords once. Rule order is kept.
func NewSectorClassifier(rules []domain.SectorRule) *SectorClassifier {
	folded := make([]domain.SectorRule, 0, len(rules))
	for _, r := range rules {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = textnorm.Key(k); k != "" {
				kw = append(kw, k)
			}
		}
		folded = append(folded, domain.SectorRule{Name: r.Name, Keywords: kw, Bonus: r.Bonus})
	}
	return &SectorClassifier{rules: folded}
}

// Classify returns the first rule with a keyword contained in the folded
// label. ok is false for blank or unmatched labels.
func (c *SectorClassifier) Classify(sector string) (domain.SectorRule, bool) {
	label := textnorm.Key(sector)
	if label == "" {
		return domain.SectorRule{}, false
	}
	for _, r := range c.rules {
		for _, k := range r.Keywords {
			if strings.Contains(label, k) {
				return r, true
			}
		}
	}
	return domain.SectorRule{}, false
}

// Bonus returns the notch ceiling granted to sector, 0 when unmatched.
func (c *SectorClassifier) Bonus(sector string) int {
	r, ok := c.Classify(sector)
	if !ok || r.Bonus < 0 {
		return 0
	}
	return r.Bonus
}
