package testutil

import "fmt"

// PanelFixture builds long-format panel data unit by unit. Rows come out
// grouped by unit with ascending periods, in the order units were added.
type PanelFixture struct {
	Periods []float64
	Columns []string

	IDs    []string
	Times  []float64
	Values map[string][]float64
}

// NewPanelFixture creates an empty panel over periods with the given value columns
func NewPanelFixture(periods []float64, columns ...string) *PanelFixture {
	values := make(map[string][]float64, len(columns))
	for _, c := range columns {
		values[c] = nil
	}
	return &PanelFixture{
		Periods: append([]float64(nil), periods...),
		Columns: append([]string(nil), columns...),
		Values:  values,
	}
}

// AddUnit appends one unit. series holds one slice per column, in column
// order, each with one value per period. It panics on a shape mismatch.
func (p *PanelFixture) AddUnit(id string, series ...[]float64) *PanelFixture {
	if len(series) != len(p.Columns) {
		panic(fmt.Sprintf("unit %s: got %d series for %d columns", id, len(series), len(p.Columns)))
	}
	for i, s := range series {
		if len(s) != len(p.Periods) {
			panic(fmt.Sprintf("unit %s column %s: got %d values for %d periods", id, p.Columns[i], len(s), len(p.Periods)))
		}
	}

	for t, period := range p.Periods {
		p.IDs = append(p.IDs, id)
		p.Times = append(p.Times, period)
		for i, c := range p.Columns {
			p.Values[c] = append(p.Values[c], series[i][t])
		}
	}
	return p
}

// Rows returns the number of rows added so far
func (p *PanelFixture) Rows() int {
	return len(p.IDs)
}

// Periods returns n consecutive periods starting at first
func Periods(first float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = first + float64(i)
	}
	return out
}

// Constant returns n copies of value
func Constant(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// Linear returns start, start+step, ... with n values
func Linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// Combine returns the pointwise weighted sum of series
func Combine(weights []float64, series ...[]float64) []float64 {
	if len(weights) != len(series) || len(series) == 0 {
		panic("weights and series must have the same non-zero length")
	}
	out := make([]float64, len(series[0]))
	for j, s := range series {
		for i, v := range s {
			out[i] += weights[j] * v
		}
	}
	return out
}
