// Package frame holds a bounded, append-only window of bars together
// with named indicator columns computed over that window.
package frame

import (
	"math"
	"sort"

	"github.com/pvandam/mtfbot/internal/models"
)

// Frame is a rolling window of bars capped at a fixed length. Columns
// are parallel to the bar slice; strategies recompute them in Setup
// after every append, so eviction only has to keep lengths consistent.
type Frame struct {
	max  int
	bars []models.Bar
	cols map[string][]float64
}

// New creates a Frame retaining at most max bars.
func New(max int) *Frame {
	if max <= 0 {
		max = 1
	}
	return &Frame{
		max:  max,
		bars: make([]models.Bar, 0, max),
		cols: make(map[string][]float64),
	}
}

// Append adds a bar, evicting the oldest bar (and the oldest row of
// every column) once the cap is reached.
func (f *Frame) Append(b models.Bar) {
	if len(f.bars) >= f.max {
		f.bars = f.bars[1:]
		for name, col := range f.cols {
			if len(col) > 0 {
				f.cols[name] = col[1:]
			}
		}
	}
	f.bars = append(f.bars, b)
}

// Len returns the number of retained bars.
func (f *Frame) Len() int { return len(f.bars) }

// Bar returns the bar at index i.
func (f *Frame) Bar(i int) models.Bar { return f.bars[i] }

// Last returns the most recent bar.
func (f *Frame) Last() models.Bar { return f.bars[len(f.bars)-1] }

// Bars returns the retained bars, oldest first.
func (f *Frame) Bars() []models.Bar { return f.bars }

// Closes returns the close series.
func (f *Frame) Closes() []float64 {
	out := make([]float64, len(f.bars))
	for i, b := range f.bars {
		out[i] = b.Close
	}
	return out
}

// SetColumn replaces a named column. The values must be parallel to
// the bar window; entries that are not yet computable hold NaN.
func (f *Frame) SetColumn(name string, vals []float64) {
	f.cols[name] = vals
}

// Column returns a named column, or nil if absent.
func (f *Frame) Column(name string) []float64 { return f.cols[name] }

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// ColumnNames returns the attached column names, sorted.
func (f *Frame) ColumnNames() []string {
	names := make([]string, 0, len(f.cols))
	for name := range f.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the column value at row i. ok is false when the column
// is absent, the index is out of range, or the value is NaN.
func (f *Frame) Value(name string, i int) (float64, bool) {
	col, present := f.cols[name]
	if !present || i < 0 || i >= len(col) {
		return 0, false
	}
	v := col[i]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// LastValue returns the column value at the most recent row.
func (f *Frame) LastValue(name string) (float64, bool) {
	return f.Value(name, len(f.bars)-1)
}

// FirstValue scans a list of column names in order and returns the
// value at row i of the first column that exists and is not NaN.
func (f *Frame) FirstValue(i int, names ...string) (float64, bool) {
	for _, name := range names {
		if v, ok := f.Value(name, i); ok {
			return v, true
		}
	}
	return 0, false
}
