package table

import (
	"github.com/opensource-finance/kestrel/internal/textnorm"
)

// EntityColumnCandidates are tried, in order, as exact header matches for
// the entity-name column.
var EntityColumnCandidates = []string{
	"NOM DE L'ENTREPRISE",
	"Entreprise",
	"ENTREPRISE",
	"NOM ENTREPRISE",
	"NOM",
}

// YearColumnCandidates identify the cohort column.
var YearColumnCandidates = []string{"ANNEE"}

// SectorColumnCandidates identify the sector column.
var SectorColumnCandidates = []string{"SECTEUR D'ACTIVITE", "SECTEUR"}

// ResolveColumn returns the first column whose header equals one of the
// candidates, ignoring case and surrounding or repeated whitespace.
func (t *Table) ResolveColumn(candidates ...string) (string, bool) {
	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[textnorm.Header(c)] = true
	}
	for _, col := range t.Columns {
		if want[textnorm.Header(col)] {
			return col, true
		}
	}
	return "", false
}

// ResolveEntityColumn locates the entity-name column: exact candidate
// matches first, then the first text column, then the first column.
func (t *Table) ResolveEntityColumn() string {
	for _, c := range EntityColumnCandidates {
		if t.Has(c) {
			return c
		}
	}
	for _, col := range t.Columns {
		if t.isTextColumn(col) {
			return col
		}
	}
	if len(t.Columns) > 0 {
		return t.Columns[0]
	}
	return ""
}

// EnsureColumn resolves one of the candidates, or adds a column named
// fallback filled with value. It returns the column name to use.
func (t *Table) EnsureColumn(fallback, value string, candidates ...string) string {
	if col, ok := t.ResolveColumn(candidates...); ok {
		return col
	}
	if !t.Has(fallback) {
		t.Fill(fallback, value)
	}
	return fallback
}

// isTextColumn reports whether the column holds at least one non-numeric value.
func (t *Table) isTextColumn(name string) bool {
	idx := t.Index(name)
	if idx < 0 {
		return false
	}
	for _, row := range t.Rows {
		cell := row[idx]
		if cell == "" {
			continue
		}
		if _, ok := ParseFloat(cell); !ok {
			return true
		}
	}
	return false
}

// FilterByName keeps the rows whose value in column contains every word of
// query as a whole word, ignoring accents, case and spacing. An empty query
// keeps every row.
func (t *Table) FilterByName(column, query string) *Table {
	var keep []int
	for i := range t.Rows {
		if textnorm.ContainsWords(t.Cell(i, column), query) {
			keep = append(keep, i)
		}
	}
	return t.Select(keep)
}
