package synth

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Demean subtracts from every observation the mean of its unit, column by
// column, for a difference-in-differences variant of the estimator. The id
// and time columns are copied unchanged and the input frame is not modified.
//
// Rows must be grouped by unit with ascending periods and every unit must be
// observed at every period, as for Ingest.
func Demean(frame *Frame, id, time string) (*Frame, error) {
	if frame == nil {
		return nil, newMalformedPanel("frame", "frame is nil", nil, Dimensions{})
	}
	ids, ok := frame.Labels(id)
	if !ok {
		return nil, newMalformedPanel(id, "id column not found", nil, Dimensions{})
	}
	times, err := numericColumn(frame, time, "time")
	if err != nil {
		return nil, err
	}

	periods := distinctPeriods(times)
	dims := Dimensions{PeriodsAll: len(periods)}
	units, err := groupUnits(ids, times)
	if err != nil {
		return nil, withDims(err, dims)
	}
	if err := checkRectangular(units, times, periods, dims); err != nil {
		return nil, err
	}

	cols := make([]Column, 0, len(frame.columns))
	for _, c := range frame.columns {
		if c.Name == id || c.Name == time {
			cols = append(cols, c)
			continue
		}
		if c.isText() {
			return nil, newMalformedPanel(c.Name, "text column cannot be demeaned", nil, dims)
		}

		values, err := numericColumn(frame, c.Name, "value")
		if err != nil {
			return nil, withDims(err, dims)
		}
		centered := make([]float64, len(values))
		for _, u := range units {
			block := values[u.start:u.end]
			out := centered[u.start:u.end]
			copy(out, block)
			floats.AddConst(-stat.Mean(block, nil), out)
		}
		for i, v := range centered {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, newMalformedPanel(c.Name, "demeaned value is not finite", i, dims)
			}
		}
		cols = append(cols, Column{Name: c.Name, Num: centered})
	}

	return NewFrame(cols...)
}
