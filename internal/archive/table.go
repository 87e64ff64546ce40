package archive

import (
	"cmp"
	"fmt"
	"slices"
)

// Table is an in-memory batch of rows sharing one header.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable creates an empty table with the given header.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// Append adds a row. Short rows are padded with blanks.
func (t *Table) Append(row ...string) {
	if len(row) < len(t.Header) {
		padded := make([]string, len(t.Header))
		copy(padded, row)
		row = padded
	}
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of the named column or -1.
func (t *Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// Values returns every value of the named column.
func (t *Table) Values(column string) []string {
	idx := t.Column(column)
	if idx < 0 {
		return nil
	}
	values := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		values = append(values, cell(row, idx))
	}
	return values
}

// Filter returns a new table holding the rows for which keep is true.
func (t *Table) Filter(keep func(row []string) bool) *Table {
	out := &Table{Header: t.Header}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// SortBy stable-sorts rows ascending by the textual value of column.
func (t *Table) SortBy(column string) error {
	idx := t.Column(column)
	if idx < 0 {
		return fmt.Errorf("%w: column %q not in batch", ErrSchema, column)
	}
	sortRows(t.Rows, idx)
	return nil
}

// RenameColumns rewrites every header name through fn.
func (t *Table) RenameColumns(fn func(string) string) {
	for i, name := range t.Header {
		t.Header[i] = fn(name)
	}
}

// InsertColumn inserts a column at position at holding value in every row.
func (t *Table) InsertColumn(at int, name, value string) {
	if at < 0 || at > len(t.Header) {
		at = len(t.Header)
	}
	t.Header = slices.Insert(t.Header, at, name)
	for i, row := range t.Rows {
		if len(row) < at {
			row = append(row, make([]string, at-len(row))...)
		}
		t.Rows[i] = slices.Insert(row, at, value)
	}
}

// project reorders rows onto header. Missing cells are blank; columns
// unknown to header are dropped.
func (t *Table) project(header []string) [][]string {
	if slices.Equal(t.Header, header) {
		return t.Rows
	}
	positions := make([]int, len(header))
	for i, name := range header {
		positions[i] = t.Column(name)
	}
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		out := make([]string, len(header))
		for i, pos := range positions {
			if pos >= 0 {
				out[i] = cell(row, pos)
			}
		}
		rows = append(rows, out)
	}
	return rows
}

func sortRows(rows [][]string, idx int) {
	slices.SortStableFunc(rows, func(a, b []string) int {
		return cmp.Compare(cell(a, idx), cell(b, idx))
	})
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
