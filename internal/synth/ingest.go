package synth

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// unitRows is the contiguous block of rows belonging to one unit
type unitRows struct {
	id    string
	start int
	end   int
}

// Ingest validates a long-format panel and reshapes it into a Store.
//
// Rows must be grouped by unit with strictly ascending periods inside each
// unit, and every unit must be observed at every period. Violations are
// reported as *MalformedPanelError; nothing is reshaped silently. The frame
// is not modified.
func Ingest(frame *Frame, spec PanelSpec) (*Store, error) {
	if frame == nil {
		return nil, newMalformedPanel("frame", "frame is nil", nil, Dimensions{})
	}
	if err := validate.Struct(spec); err != nil {
		return nil, newMalformedPanel("panel_spec", fmt.Sprintf("invalid panel spec: %v", err), nil, Dimensions{})
	}
	if math.IsNaN(spec.TreatmentPeriod) || math.IsInf(spec.TreatmentPeriod, 0) {
		return nil, newMalformedPanel("treatment_period", "treatment period is not finite", spec.TreatmentPeriod, Dimensions{})
	}

	ids, ok := frame.Labels(spec.ID)
	if !ok {
		return nil, newMalformedPanel(spec.ID, "id column not found", nil, Dimensions{})
	}
	times, err := numericColumn(frame, spec.Time, "time")
	if err != nil {
		return nil, err
	}

	periods := distinctPeriods(times)
	periodsPre := sort.SearchFloat64s(periods, spec.TreatmentPeriod)
	dims := Dimensions{PeriodsAll: len(periods), PeriodsPre: periodsPre}

	units, err := groupUnits(ids, times)
	if err != nil {
		return nil, withDims(err, dims)
	}
	dims.Controls = len(units) - 1

	outcome, err := numericColumn(frame, spec.Outcome, "outcome")
	if err != nil {
		return nil, withDims(err, dims)
	}

	covariates, err := spec.resolveCovariates(frame)
	if err != nil {
		return nil, withDims(err, dims)
	}
	if len(covariates) == 0 {
		return nil, newMalformedPanel("covariates", "covariate set is empty", nil, dims)
	}
	dims.Covariates = len(covariates)
	covValues := make([][]float64, len(covariates))
	for k, name := range covariates {
		if covValues[k], err = numericColumn(frame, name, "covariate"); err != nil {
			return nil, withDims(err, dims)
		}
	}

	var treated *unitRows
	controls := make([]unitRows, 0, len(units))
	for i := range units {
		if units[i].id == spec.TreatedUnit {
			treated = &units[i]
			continue
		}
		controls = append(controls, units[i])
	}
	if treated == nil {
		dims.Controls = len(units)
		return nil, newMalformedPanel("treated_unit", "treated unit not found in panel", spec.TreatedUnit, dims)
	}
	if len(controls) == 0 {
		return nil, newMalformedPanel("controls", "panel has no control units", nil, dims)
	}

	if err := checkRectangular(units, times, periods, dims); err != nil {
		return nil, err
	}

	if periodsPre == 0 || periodsPre == dims.PeriodsAll {
		return nil, newMalformedPanel("treatment_period", "treatment period outside the observed time range", spec.TreatmentPeriod, dims)
	}

	y1 := mat.NewVecDense(dims.PeriodsAll, append([]float64(nil), outcome[treated.start:treated.end]...))
	x1 := mat.NewVecDense(dims.Covariates, preMeans(covValues, *treated, periodsPre))

	y0 := mat.NewDense(dims.PeriodsAll, dims.Controls, nil)
	x0 := mat.NewDense(dims.Covariates, dims.Controls, nil)
	controlIDs := make([]string, len(controls))
	for j, u := range controls {
		controlIDs[j] = u.id
		y0.SetCol(j, outcome[u.start:u.end])
		x0.SetCol(j, preMeans(covValues, u, periodsPre))
	}

	layout := StoreLayout{
		TreatedUnit: spec.TreatedUnit,
		Controls:    controlIDs,
		Covariates:  covariates,
		Periods:     periods,
		PeriodsPre:  periodsPre,
	}
	return NewStore(layout, y1, y0, x1, x0)
}

// checkRectangular requires every unit to be observed exactly once at every
// period of the panel. times must already be ascending within each unit.
func checkRectangular(units []unitRows, times, periods []float64, dims Dimensions) error {
	for _, u := range units {
		if n := u.end - u.start; n != len(periods) {
			return newMalformedPanel("unit", fmt.Sprintf("unit has %d observations, expected %d", n, len(periods)), u.id, dims)
		}
		for j, p := range times[u.start:u.end] {
			if p != periods[j] {
				return newMalformedPanel("unit", "unit period set differs from the panel period set", u.id, dims)
			}
		}
	}
	return nil
}

// withDims attaches the dimensions known so far to a MalformedPanelError
func withDims(err error, dims Dimensions) error {
	if mpe, ok := err.(*MalformedPanelError); ok {
		mpe.Dims = dims
		mpe.AppError.WithContext("dimensions", dims)
	}
	return err
}

// numericColumn returns a finite numeric column or a MalformedPanelError
func numericColumn(frame *Frame, name, role string) ([]float64, error) {
	if !frame.Has(name) {
		return nil, newMalformedPanel(name, role+" column not found", nil, Dimensions{})
	}
	values := frame.numericView(name)
	if values == nil {
		return nil, newMalformedPanel(name, role+" column is not numeric", nil, Dimensions{})
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, newMalformedPanel(name, fmt.Sprintf("non-finite value at row %d", i), v, Dimensions{})
		}
	}
	return values, nil
}

// groupUnits splits rows into contiguous per-unit blocks in order of first appearance.
func groupUnits(ids []string, times []float64) ([]unitRows, error) {
	var units []unitRows
	seen := make(map[string]bool)

	for i, id := range ids {
		if len(units) > 0 && units[len(units)-1].id == id {
			prev := times[i-1]
			switch {
			case times[i] == prev:
				return nil, newMalformedPanel("unit", fmt.Sprintf("duplicate observation at period %g", times[i]), id, Dimensions{})
			case times[i] < prev:
				return nil, newMalformedPanel("unit", fmt.Sprintf("periods not ascending at row %d", i), id, Dimensions{})
			}
			units[len(units)-1].end = i + 1
			continue
		}
		if seen[id] {
			return nil, newMalformedPanel("unit", "unit rows are not contiguous", id, Dimensions{})
		}
		seen[id] = true
		units = append(units, unitRows{id: id, start: i, end: i + 1})
	}

	if len(units) == 0 {
		return nil, newMalformedPanel("frame", "panel has no rows", nil, Dimensions{})
	}
	return units, nil
}

// distinctPeriods returns the sorted distinct values of the time column
func distinctPeriods(times []float64) []float64 {
	set := make(map[float64]struct{}, len(times))
	for _, t := range times {
		set[t] = struct{}{}
	}
	periods := make([]float64, 0, len(set))
	for t := range set {
		periods = append(periods, t)
	}
	sort.Float64s(periods)
	return periods
}

// preMeans averages each covariate over the unit's pre-treatment rows
func preMeans(covValues [][]float64, u unitRows, periodsPre int) []float64 {
	means := make([]float64, len(covValues))
	for k, values := range covValues {
		means[k] = stat.Mean(values[u.start:u.start+periodsPre], nil)
	}
	return means
}
