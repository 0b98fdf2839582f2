package table

import (
	"github.com/zclconf/go-cty/cty"
)

// Table is an ordered set of rows. Rows may omit columns; Columns records
// every column seen, in first-seen order.
type Table struct {
	Columns  []string
	Rows     []map[string]cty.Value
	Temporal map[string]bool

	index map[string]struct{}
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	t := &Table{Temporal: make(map[string]bool), index: make(map[string]struct{})}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

// ensureIndex rebuilds the column index for tables built as literals.
func (t *Table) ensureIndex() {
	if t.index != nil {
		return
	}
	t.index = make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		t.index[c] = struct{}{}
	}
}

// AddColumn registers a column without touching any row.
func (t *Table) AddColumn(name string) {
	t.addColumn(name)
}

func (t *Table) addColumn(name string) {
	t.ensureIndex()
	if _, ok := t.index[name]; ok {
		return
	}
	t.index[name] = struct{}{}
	t.Columns = append(t.Columns, name)
}

// HasColumn reports whether any row may carry the named column.
func (t *Table) HasColumn(name string) bool {
	t.ensureIndex()
	_, ok := t.index[name]
	return ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Append adds a row, registering any new columns. The row map is retained.
func (t *Table) Append(row map[string]cty.Value) {
	for _, c := range sortedRowKeys(row) {
		t.addColumn(c)
	}
	t.Rows = append(t.Rows, row)
}

// SetTemporal marks a column as holding epoch-millisecond timestamps.
func (t *Table) SetTemporal(column string, temporal bool) {
	if t.Temporal == nil {
		t.Temporal = make(map[string]bool)
	}
	if temporal {
		t.Temporal[column] = true
		return
	}
	delete(t.Temporal, column)
}

// Derive creates an empty table with the same columns and temporal flags.
func (t *Table) Derive() *Table {
	out := New(t.Columns...)
	for c, ok := range t.Temporal {
		if ok {
			out.Temporal[c] = true
		}
	}
	return out
}

// Clone copies the table and each row map. Values are immutable and shared.
func (t *Table) Clone() *Table {
	out := t.Derive()
	out.Rows = make([]map[string]cty.Value, len(t.Rows))
	for i, row := range t.Rows {
		cp := make(map[string]cty.Value, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}

// Concat appends the rows of other tables after t's rows into a new table.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			out.addColumn(c)
		}
		for c, ok := range t.Temporal {
			if ok {
				out.Temporal[c] = true
			}
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// Truncate caps the table at limit rows. A non-positive limit means no cap.
// It reports whether rows were dropped.
func (t *Table) Truncate(limit int) (*Table, bool) {
	if limit <= 0 || len(t.Rows) <= limit {
		return t, false
	}
	out := t.Derive()
	out.Rows = t.Rows[:limit:limit]
	return out, true
}

// Datum returns row i as an object carrying every column; missing columns
// are null.
func (t *Table) Datum(i int) cty.Value {
	row := t.Rows[i]
	attrs := make(map[string]cty.Value, len(t.Columns))
	for _, c := range t.Columns {
		if v, ok := row[c]; ok {
			attrs[c] = v
		} else {
			attrs[c] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(attrs)
}

// Value returns the table as a tuple of row objects, the shape data()
// exposes to expressions.
func (t *Table) Value() cty.Value {
	if t.Len() == 0 {
		return cty.EmptyTupleVal
	}
	rows := make([]cty.Value, len(t.Rows))
	for i := range t.Rows {
		rows[i] = t.Datum(i)
	}
	return cty.TupleVal(rows)
}

// Column returns the values of a column, with nulls for missing entries.
func (t *Table) Column(name string) []cty.Value {
	out := make([]cty.Value, len(t.Rows))
	for i, row := range t.Rows {
		if v, ok := row[name]; ok {
			out[i] = v
		} else {
			out[i] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	return out
}
