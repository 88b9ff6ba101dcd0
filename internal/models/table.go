// Package models contains domain types shared across the stepdash backend.
package models

// ValueType is the inferred type of a single cell.
type ValueType string

const (
	ValueTypeNull    ValueType = "null"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeInteger ValueType = "integer"
	ValueTypeFloat   ValueType = "float"
	ValueTypeString  ValueType = "string"
)

// TypeOf reports the ValueType of a cell value produced by the parsers.
func TypeOf(v any) ValueType {
	switch v.(type) {
	case nil:
		return ValueTypeNull
	case bool:
		return ValueTypeBoolean
	case int, int32, int64:
		return ValueTypeInteger
	case float32, float64:
		return ValueTypeFloat
	default:
		return ValueTypeString
	}
}

// Row maps a column name to a scalar cell value (nil, bool, int64, float64 or string).
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered sequence of rows. Columns is taken from the header
// (or the first row) and is not validated against later rows.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []string) *Table {
	return &Table{
		Columns: append([]string(nil), columns...),
		Rows:    make([]Row, 0),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone deep-copies the row slice so callers can mutate rows freely.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}
