package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// StatusRow is one line of the status view.
type StatusRow struct {
	Entity    string   `json:"entity"`
	Year      string   `json:"year"`
	Status    string   `json:"status"`
	PDPercent *float64 `json:"pdPercent,omitempty"`
}

// StatusKPI counts the entities of a status view.
type StatusKPI struct {
	Count     int `json:"count"`
	Healthy   int `json:"healthy"`
	Defaulted int `json:"defaulted"`
}

// StatusView lists entity, year, status and PD percentage.
type StatusView struct {
	BatchID string      `json:"batchId"`
	Company string      `json:"company,omitempty"`
	Rows    []StatusRow `json:"rows"`
	KPI     StatusKPI   `json:"kpi"`
}

// RatingRow is one line of the rating view.
type RatingRow struct {
	Entity string        `json:"entity"`
	Year   string        `json:"year"`
	Final  domain.Rating `json:"final"`
}

// RatingView lists entity, year and final rating with the distribution.
type RatingView struct {
	BatchID      string                `json:"batchId"`
	Company      string                `json:"company,omitempty"`
	Rows         []RatingRow           `json:"rows"`
	Distribution map[domain.Rating]int `json:"distribution"`
}

// Table returns the rated table of b.
func Table(b *domain.Batch) *table.Table {
	return &table.Table{Columns: b.Columns, Rows: b.Rows}
}

// viewTable resolves the entity and year columns and applies the optional
// company filter.
func viewTable(b *domain.Batch, company string) (*table.Table, string, string) {
	tbl := Table(b)
	entity := tbl.ResolveEntityColumn()
	year, ok := tbl.ResolveColumn(table.YearColumnCandidates...)
	if !ok {
		year = domain.ColumnYearSynthetic
	}
	if company != "" {
		tbl = tbl.FilterByName(entity, company)
	}
	return tbl, entity, year
}

// BuildStatusView renders the status view of b, filtered by company when
// it is not empty.
func BuildStatusView(b *domain.Batch, company string) StatusView {
	tbl, entity, year := viewTable(b, company)

	view := StatusView{BatchID: b.ID, Company: company, Rows: make([]StatusRow, 0, tbl.Len())}
	hasPD := tbl.Has(domain.ColumnPD)
	for i := 0; i < tbl.Len(); i++ {
		row := StatusRow{
			Entity: tbl.Cell(i, entity),
			Year:   tbl.Cell(i, year),
			Status: tbl.Cell(i, domain.ColumnStatus),
		}
		if row.Status == "" {
			row.Status = domain.StatusUnknown
		}
		if hasPD {
			if p, ok := tbl.Float(i, domain.ColumnPD); ok {
				pct := math.Round(p*100*100) / 100
				row.PDPercent = &pct
			}
		}

		switch row.Status {
		case domain.StatusHealthy:
			view.KPI.Healthy++
		case domain.StatusDefaulted:
			view.KPI.Defaulted++
		}
		view.Rows = append(view.Rows, row)
	}
	view.KPI.Count = len(view.Rows)
	return view
}

// BuildRatingView renders the rating view of b over scale, filtered by
// company when it is not empty. ok is false when b carries no ratings.
func BuildRatingView(b *domain.Batch, company string, scale domain.Scale) (RatingView, bool) {
	tbl, entity, year := viewTable(b, company)
	if !tbl.Has(domain.ColumnFinal) {
		return RatingView{}, false
	}

	view := RatingView{
		BatchID:      b.ID,
		Company:      company,
		Rows:         make([]RatingRow, 0, tbl.Len()),
		Distribution: make(map[domain.Rating]int, len(scale)),
	}
	for _, r := range scale {
		view.Distribution[r] = 0
	}
	for i := 0; i < tbl.Len(); i++ {
		final := domain.Rating(tbl.Cell(i, domain.ColumnFinal))
		view.Rows = append(view.Rows, RatingRow{
			Entity: tbl.Cell(i, entity),
			Year:   tbl.Cell(i, year),
			Final:  final,
		})
		if scale.Contains(final) {
			view.Distribution[final]++
		}
	}
	return view, true
}
