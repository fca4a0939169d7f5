package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// Feature binds a CEL variable to the spreadsheet header it is read from.
type Feature struct {
	Name   string `json:"name"`
	Header string `json:"header"`
}

// Features are the financial ratios criteria can read.
var Features = []Feature{
	{Name: "benefice_net", Header: "bénéfice net"},
	{Name: "ebe", Header: "ebe"},
	{Name: "capitaux_propres", Header: "capitaux propres"},
	{Name: "fonds_de_roulement", Header: "fonds de roulement"},
	{Name: "total_dettes", Header: "total dettes"},
	{Name: "roe", Header: "rendement des capitaux propres (roe)"},
	{Name: "levier_financier", Header: "levier financier"},
}

// FeatureByName looks a feature up by variable name.
func FeatureByName(name string) (Feature, bool) {
	for _, f := range Features {
		if f.Name == name {
			return f, true
		}
	}
	return Feature{}, false
}

// ResolveFeatures maps feature names to the table columns that carry them.
// Headers match ignoring case, accents and surrounding spaces.
func ResolveFeatures(tbl *table.Table) map[string]string {
	byKey := make(map[string]string, len(tbl.Columns))
	for _, col := range tbl.Columns {
		k := textnorm.Key(col)
		if _, dup := byKey[k]; !dup {
			byKey[k] = col
		}
	}

	out := make(map[string]string, len(Features))
	for _, f := range Features {
		if col, ok := byKey[textnorm.Key(f.Header)]; ok {
			out[f.Name] = col
		}
	}
	return out
}

// DefaultVersion is the version stamped on the built-in criteria.
const DefaultVersion = "1.0.0"

// DefaultCriteria returns the built-in financial-health criteria.
func DefaultCriteria() []*domain.Criterion {
	criteria := []*domain.Criterion{
		{
			ID:          "net-loss",
			Name:        "Net loss",
			Description: "Bénéfice net négatif",
			Expression:  "benefice_net < 0.0",
			Fields:      []string{"benefice_net"},
		},
		{
			ID:          "negative-ebe",
			Name:        "Negative EBE",
			Description: "EBE négatif",
			Expression:  "ebe < 0.0",
			Fields:      []string{"ebe"},
		},
		{
			ID:          "negative-equity",
			Name:        "Negative equity",
			Description: "Capitaux propres négatifs ou nuls",
			Expression:  "capitaux_propres <= 0.0",
			Fields:      []string{"capitaux_propres"},
		},
		{
			ID:          "negative-roe",
			Name:        "Negative ROE",
			Description: "Rendement des capitaux propres négatif",
			Expression:  "roe < 0.0",
			Fields:      []string{"roe"},
		},
		{
			ID:          "over-indebted",
			Name:        "Over-indebted",
			Description: "Dettes supérieures à 1,5 fois les capitaux propres",
			Expression:  "capitaux_propres != 0.0 && total_dettes / capitaux_propres > 1.5",
			Fields:      []string{"total_dettes", "capitaux_propres"},
		},
		{
			ID:          "excess-leverage",
			Name:        "Excessive leverage",
			Description: "Levier financier supérieur à 1",
			Expression:  "levier_financier > 1.0",
			Fields:      []string{"levier_financier"},
		},
		{
			ID:          "negative-working-capital",
			Name:        "Negative working capital",
			Description: "Fonds de roulement négatif",
			Expression:  "fonds_de_roulement < 0.0",
			Fields:      []string{"fonds_de_roulement"},
		},
	}
	for _, c := range criteria {
		c.Version = DefaultVersion
		c.Enabled = true
	}
	return criteria
}
