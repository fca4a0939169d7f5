package rating

import (
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// Columns names the input columns the pipeline reads.
type Columns struct {
	PD     string
	Cohort string
	Sector string
}

// Rate rates rows whose PD is already clean. Results keep the input order.
func (e *Engine) Rate(rows []domain.EntityRow) []domain.RatingResult {
	if len(rows) == 0 {
		return nil
	}

	pds := make([]float64, len(rows))
	cohorts := make([]string, len(rows))
	for i, r := range rows {
		pds[i] = r.PD
		cohorts[i] = r.Cohort
	}

	scale := e.policy.Scale
	edges := QuantileEdges(scale, e.targets, pds)
	pct := CohortPercentiles(pds, cohorts)

	results := make([]domain.RatingResult, len(rows))
	for i, r := range rows {
		abs := AbsoluteRating(scale, r.PD, edges)
		q := QuantileRating(scale, e.targets, pct[i])
		prudent := e.Blend(q, abs)
		overlay, bonus := e.ApplySectorOverlay(prudent, r.PD, r.Sector)
		overlay = e.CapVsAbsolute(overlay, abs)

		results[i] = domain.RatingResult{
			Index:        r.Index,
			PD:           r.PD,
			Cohort:       r.Cohort,
			Sector:       r.Sector,
			Percentile:   pct[i],
			Absolute:     abs,
			Quantile:     q,
			Prudent:      prudent,
			Overlay:      overlay,
			Final:        overlay,
			OverlayBonus: bonus,
			Reason:       fmt.Sprintf("ABS=%s | Q=%s | B+%d", abs, q, bonus),
		}
	}
	return results
}

// Notate rates a table. Rows whose PD does not parse are dropped, PDs are
// clipped to [0,1], and the rating columns are appended to a copy of the
// surviving rows. The input table is not modified.
func (e *Engine) Notate(tbl *table.Table, cols Columns) (*table.Table, []domain.RatingResult) {
	rows, keep := ExtractRows(tbl, cols)
	out := tbl.Select(keep)
	if len(rows) == 0 {
		return out, nil
	}

	results := e.Rate(rows)
	n := len(results)
	pd := make([]string, n)
	abs := make([]string, n)
	q := make([]string, n)
	prudent := make([]string, n)
	overlay := make([]string, n)
	bonus := make([]string, n)
	final := make([]string, n)
	reason := make([]string, n)
	for i, r := range results {
		pd[i] = table.FormatFloat(r.PD)
		abs[i] = string(r.Absolute)
		q[i] = string(r.Quantile)
		prudent[i] = string(r.Prudent)
		overlay[i] = string(r.Overlay)
		bonus[i] = strconv.Itoa(r.OverlayBonus)
		final[i] = string(r.Final)
		reason[i] = r.Reason
	}

	out.Set(cols.PD, pd)
	out.Set(domain.ColumnAbsolute, abs)
	out.Set(domain.ColumnQuantile, q)
	out.Set(domain.ColumnPrudent, prudent)
	out.Set(domain.ColumnOverlay, overlay)
	out.Set(domain.ColumnOverlayBonus, bonus)
	out.Set(domain.ColumnFinal, final)
	out.Set(domain.ColumnReason, reason)
	return out, results
}

// ExtractRows reads the usable rows of tbl and the source positions they
// came from. PDs are clipped to [0,1]; unparsable PDs are skipped.
func ExtractRows(tbl *table.Table, cols Columns) ([]domain.EntityRow, []int) {
	if tbl == nil || !tbl.Has(cols.PD) {
		return nil, nil
	}

	var rows []domain.EntityRow
	var keep []int
	for i := 0; i < tbl.Len(); i++ {
		p, ok := tbl.Float(i, cols.PD)
		if !ok {
			continue
		}
		rows = append(rows, domain.EntityRow{
			Index:  i,
			PD:     clip(p, 0, 1),
			Cohort: tbl.Cell(i, cols.Cohort),
			Sector: tbl.Cell(i, cols.Sector),
		})
		keep = append(keep, i)
	}
	return rows, keep
}
