package timeseries

import (
	"math"
	"time"
)

// Table is a columnar timeseries: one shared timestamp index plus named
// float columns of equal length. Missing values are NaN.
type Table struct {
	Timestamps []time.Time
	Columns    map[string][]float64
	Order      []string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{Columns: make(map[string][]float64)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Timestamps)
}

// HasColumn reports whether a named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Columns[name]
	return ok
}

// Column returns the raw values of a column, NaNs included.
func (t *Table) Column(name string) []float64 {
	return t.Columns[name]
}

// AddColumn registers a column, keeping insertion order.
func (t *Table) AddColumn(name string, values []float64) {
	if _, ok := t.Columns[name]; !ok {
		t.Order = append(t.Order, name)
	}
	t.Columns[name] = values
}

// dropNaN returns the non-NaN values of a column in order.
func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
