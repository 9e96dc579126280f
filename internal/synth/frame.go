package synth

import (
	"fmt"
	"strconv"

	apperrors "synthcontrol/internal/errors"
)

// Column is one named column of a Frame. Exactly one of Text or Num is set.
type Column struct {
	Name string
	Text []string
	Num  []float64
}

// TextColumn builds a string-valued column, typically a unit identifier
func TextColumn(name string, values ...string) Column {
	return Column{Name: name, Text: append([]string{}, values...)}
}

// NumericColumn builds a float-valued column
func NumericColumn(name string, values ...float64) Column {
	return Column{Name: name, Num: append([]float64{}, values...)}
}

func (c Column) isText() bool { return c.Text != nil }

func (c Column) len() int {
	if c.isText() {
		return len(c.Text)
	}
	return len(c.Num)
}

// Frame is a long-format panel table: one row per (unit, period),
// columns in a fixed order. A Frame is read-only once built.
type Frame struct {
	columns []Column
	index   map[string]int
	rows    int
}

// NewFrame validates and assembles columns into a Frame.
// Column slices are copied; later changes by the caller do not leak in.
func NewFrame(cols ...Column) (*Frame, error) {
	if len(cols) == 0 {
		return nil, apperrors.NewAppValidationError("frame has no columns", nil)
	}

	f := &Frame{
		columns: make([]Column, 0, len(cols)),
		index:   make(map[string]int, len(cols)),
		rows:    -1,
	}

	for i, c := range cols {
		if c.Name == "" {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("column %d has an empty name", i), nil)
		}
		if _, dup := f.index[c.Name]; dup {
			return nil, apperrors.NewAppValidationError(fmt.Sprintf("duplicate column %q", c.Name), nil)
		}
		if (c.Text == nil) == (c.Num == nil) {
			return nil, apperrors.NewAppValidationError(
				fmt.Sprintf("column %q must hold either text or numeric values", c.Name), nil)
		}
		if f.rows >= 0 && c.len() != f.rows {
			return nil, apperrors.NewAppValidationError(
				fmt.Sprintf("column %q has %d rows, expected %d", c.Name, c.len(), f.rows), nil).
				WithContext("column", c.Name)
		}
		f.rows = c.len()

		copied := Column{Name: c.Name}
		if c.isText() {
			copied.Text = append([]string{}, c.Text...)
		} else {
			copied.Num = append([]float64{}, c.Num...)
		}
		f.index[c.Name] = len(f.columns)
		f.columns = append(f.columns, copied)
	}

	return f, nil
}

// Len returns the number of rows
func (f *Frame) Len() int {
	return f.rows
}

// Names returns the column names in frame order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether the frame has a column with the given name
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// IsNumeric reports whether the named column exists and holds numbers
func (f *Frame) IsNumeric(name string) bool {
	i, ok := f.index[name]
	return ok && !f.columns[i].isText()
}

// Numeric returns a copy of a numeric column
func (f *Frame) Numeric(name string) ([]float64, bool) {
	i, ok := f.index[name]
	if !ok || f.columns[i].isText() {
		return nil, false
	}
	return append([]float64{}, f.columns[i].Num...), true
}

// Labels returns a column rendered as strings. Numeric values are
// formatted with the shortest representation that round-trips.
func (f *Frame) Labels(name string) ([]string, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	c := f.columns[i]
	if c.isText() {
		return append([]string{}, c.Text...), true
	}
	labels := make([]string, len(c.Num))
	for j, v := range c.Num {
		labels[j] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return labels, true
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	clone, _ := NewFrame(f.columns...)
	return clone
}

// numericView returns the column without copying; callers must not modify it.
func (f *Frame) numericView(name string) []float64 {
	i, ok := f.index[name]
	if !ok || f.columns[i].isText() {
		return nil
	}
	return f.columns[i].Num
}
