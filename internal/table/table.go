// Package table holds rectangular datasets read from uploaded spreadsheets.
package table

import (
	"math"
	"strconv"
	"strings"
)

// Table is a rectangular dataset of string cells. Every row has exactly
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// New creates a table with the given headers, trimming whitespace around each.
func New(columns []string) *Table {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = strings.TrimSpace(c)
	}
	return &Table{Columns: cols}
}

// AppendRow adds a row, padding or truncating it to the column count.
func (t *Table) AppendRow(cells []string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of the column with the exact name, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether a column with the exact name exists.
func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// Column returns a copy of the cells of the named column, or nil.
func (t *Table) Column(name string) []string {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Cell returns the cell at row i of the named column, or "".
func (t *Table) Cell(i int, name string) string {
	idx := t.Index(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][idx]
}

// Set writes values into the named column, adding the column when missing.
// values must have one entry per row.
func (t *Table) Set(name string, values []string) {
	idx := t.Index(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], "")
		}
		idx = len(t.Columns) - 1
	}
	for i := range t.Rows {
		if i < len(values) {
			t.Rows[i][idx] = values[i]
		}
	}
}

// Fill sets every cell of the named column to value, adding it when missing.
func (t *Table) Fill(name, value string) {
	values := make([]string, len(t.Rows))
	for i := range values {
		values[i] = value
	}
	t.Set(name, values)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]string(nil), row...)
	}
	return out
}

// Select returns a new table with only the rows at the given positions.
func (t *Table) Select(rows []int) *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]string, 0, len(rows)),
	}
	for _, i := range rows {
		if i >= 0 && i < len(t.Rows) {
			out.Rows = append(out.Rows, append([]string(nil), t.Rows[i]...))
		}
	}
	return out
}

// Float parses the cell at row i of the named column.
func (t *Table) Float(i int, name string) (float64, bool) {
	return ParseFloat(t.Cell(i, name))
}

// IsNumericColumn reports whether every non-empty cell of the column parses
// as a number and at least one does.
func (t *Table) IsNumericColumn(name string) bool {
	idx := t.Index(name)
	if idx < 0 {
		return false
	}
	seen := false
	for _, row := range t.Rows {
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		if _, ok := ParseFloat(cell); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// ParseFloat reads a numeric cell. Surrounding spaces are ignored and a
// comma decimal separator is accepted. Empty, NaN and non-numeric cells
// return false.
func ParseFloat(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// FormatFloat renders a float the way cells are written back.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
