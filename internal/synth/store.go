package synth

import (
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StoreLayout names the rows and columns of the matrices held by a Store.
type StoreLayout struct {
	TreatedUnit string
	Controls    []string
	Covariates  []string
	// Periods are all observed periods in ascending order
	Periods []float64
	// PeriodsPre counts the leading periods before treatment
	PeriodsPre int
}

// Store holds the matrices of one estimation run together with the
// solution state the solvers write into it.
//
// The data matrices are immutable after NewStore. W and V are guarded by a
// mutex and the failure counter is atomic, so concurrent restarts may share
// one Store.
type Store struct {
	dims       Dimensions
	treated    string
	controls   []string
	covariates []string
	periods    []float64

	y1 *mat.VecDense // T_all
	y0 *mat.Dense    // T_all x N
	z1 *mat.VecDense // T_pre
	z0 *mat.Dense    // T_pre x N
	x1 *mat.VecDense // K
	x0 *mat.Dense    // K x N

	// standardized covariates, each row divided by its spread across units
	scales []float64
	sx1    *mat.VecDense
	sx0    *mat.Dense

	failCount atomic.Int64

	mu              sync.RWMutex
	weights         []float64
	importance      []float64
	treatmentEffect []float64
}

// NewStore validates the layout and matrix shapes and builds a Store.
// Z1 and Z0 are the leading PeriodsPre rows of y1 and y0.
func NewStore(layout StoreLayout, y1 mat.Vector, y0 mat.Matrix, x1 mat.Vector, x0 mat.Matrix) (*Store, error) {
	dims := Dimensions{
		PeriodsAll: len(layout.Periods),
		PeriodsPre: layout.PeriodsPre,
		Controls:   len(layout.Controls),
		Covariates: len(layout.Covariates),
	}

	if err := validateLayout(layout, dims); err != nil {
		return nil, err
	}
	if y1 == nil || y0 == nil || x1 == nil || x0 == nil {
		return nil, newMalformedPanel("matrices", "nil matrix", nil, dims)
	}
	if y1.Len() != dims.PeriodsAll {
		return nil, newMalformedPanel("y1", "treated outcome length does not match periods", y1.Len(), dims)
	}
	if r, c := y0.Dims(); r != dims.PeriodsAll || c != dims.Controls {
		return nil, newMalformedPanel("y0", "control outcome shape mismatch", [2]int{r, c}, dims)
	}
	if x1.Len() != dims.Covariates {
		return nil, newMalformedPanel("x1", "treated covariate length does not match covariates", x1.Len(), dims)
	}
	if r, c := x0.Dims(); r != dims.Covariates || c != dims.Controls {
		return nil, newMalformedPanel("x0", "control covariate shape mismatch", [2]int{r, c}, dims)
	}

	s := &Store{
		dims:       dims,
		treated:    layout.TreatedUnit,
		controls:   append([]string(nil), layout.Controls...),
		covariates: append([]string(nil), layout.Covariates...),
		periods:    append([]float64(nil), layout.Periods...),
		y1:         mat.VecDenseCopyOf(y1),
		y0:         mat.DenseCopyOf(y0),
		x1:         mat.VecDenseCopyOf(x1),
		x0:         mat.DenseCopyOf(x0),
	}

	for _, m := range []struct {
		name string
		m    mat.Matrix
	}{{"y1", s.y1}, {"y0", s.y0}, {"x1", s.x1}, {"x0", s.x0}} {
		if !allFinite(m.m) {
			return nil, newMalformedPanel(m.name, "matrix contains non-finite values", nil, dims)
		}
	}

	s.z1 = mat.VecDenseCopyOf(s.y1.SliceVec(0, dims.PeriodsPre))
	s.z0 = mat.DenseCopyOf(s.y0.Slice(0, dims.PeriodsPre, 0, dims.Controls))
	s.standardize()

	return s, nil
}

// standardize scales every covariate row of [X1 X0] by its standard
// deviation across units. Constant rows keep a scale of one.
func (s *Store) standardize() {
	k, n := s.dims.Covariates, s.dims.Controls
	s.scales = make([]float64, k)
	s.sx1 = mat.NewVecDense(k, nil)
	s.sx0 = mat.NewDense(k, n, nil)

	row := make([]float64, n+1)
	for i := 0; i < k; i++ {
		row[0] = s.x1.AtVec(i)
		mat.Row(row[1:], i, s.x0)

		scale := stat.StdDev(row, nil)
		if !(scale > minScale) {
			scale = 1
		}
		s.scales[i] = scale

		s.sx1.SetVec(i, row[0]/scale)
		for j := 0; j < n; j++ {
			s.sx0.Set(i, j, row[j+1]/scale)
		}
	}
}

// covariateMatrices returns X1 and X0 without copying, standardized or raw.
// Callers must not modify them.
func (s *Store) covariateMatrices(standardized bool) (*mat.VecDense, *mat.Dense) {
	if standardized {
		return s.sx1, s.sx0
	}
	return s.x1, s.x0
}

func validateLayout(layout StoreLayout, dims Dimensions) error {
	if layout.TreatedUnit == "" {
		return newMalformedPanel("treated_unit", "treated unit is empty", nil, dims)
	}
	if dims.Controls == 0 {
		return newMalformedPanel("controls", "no control units", nil, dims)
	}
	if dims.Covariates == 0 {
		return newMalformedPanel("covariates", "covariate set is empty", nil, dims)
	}
	if dims.PeriodsPre <= 0 || dims.PeriodsPre >= dims.PeriodsAll {
		return newMalformedPanel("treatment_period", "treatment period outside the observed time range", dims.PeriodsPre, dims)
	}

	seen := make(map[string]bool, dims.Controls+1)
	seen[layout.TreatedUnit] = true
	for _, id := range layout.Controls {
		if id == "" || seen[id] {
			return newMalformedPanel("controls", "control unit id empty or duplicated", id, dims)
		}
		seen[id] = true
	}

	names := make(map[string]bool, dims.Covariates)
	for _, name := range layout.Covariates {
		if name == "" || names[name] {
			return newMalformedPanel("covariates", "covariate name empty or duplicated", name, dims)
		}
		names[name] = true
	}

	for i, p := range layout.Periods {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return newMalformedPanel("periods", "non-finite period", p, dims)
		}
		if i > 0 && p <= layout.Periods[i-1] {
			return newMalformedPanel("periods", "periods not strictly ascending", p, dims)
		}
	}
	return nil
}

func allFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Dimensions returns the scalar sizes of the run
func (s *Store) Dimensions() Dimensions { return s.dims }

// TreatedUnit returns the treated unit id
func (s *Store) TreatedUnit() string { return s.treated }

// Controls returns the control unit ids in column order
func (s *Store) Controls() []string { return append([]string(nil), s.controls...) }

// Covariates returns the covariate names in row order
func (s *Store) Covariates() []string { return append([]string(nil), s.covariates...) }

// Periods returns all periods in ascending order
func (s *Store) Periods() []float64 { return append([]float64(nil), s.periods...) }

// PrePeriods returns the pre-treatment periods
func (s *Store) PrePeriods() []float64 {
	return append([]float64(nil), s.periods[:s.dims.PeriodsPre]...)
}

// PostPeriods returns the periods at or after treatment
func (s *Store) PostPeriods() []float64 {
	return append([]float64(nil), s.periods[s.dims.PeriodsPre:]...)
}

// Z1 returns the treated pre-treatment outcome (T_pre)
func (s *Store) Z1() *mat.VecDense { return mat.VecDenseCopyOf(s.z1) }

// Z0 returns the control pre-treatment outcomes (T_pre x N)
func (s *Store) Z0() *mat.Dense { return mat.DenseCopyOf(s.z0) }

// Y1 returns the treated outcome over all periods (T_all)
func (s *Store) Y1() *mat.VecDense { return mat.VecDenseCopyOf(s.y1) }

// Y0 returns the control outcomes over all periods (T_all x N)
func (s *Store) Y0() *mat.Dense { return mat.DenseCopyOf(s.y0) }

// X1 returns the treated pre-treatment covariate means (K)
func (s *Store) X1() *mat.VecDense { return mat.VecDenseCopyOf(s.x1) }

// X0 returns the control pre-treatment covariate means (K x N)
func (s *Store) X0() *mat.Dense { return mat.DenseCopyOf(s.x0) }

// CovariateScales returns the divisor applied to each covariate row when standardizing
func (s *Store) CovariateScales() []float64 { return append([]float64(nil), s.scales...) }

// FailCount returns the number of failed inner solves so far
func (s *Store) FailCount() int64 { return s.failCount.Load() }

func (s *Store) recordFailure() int64 { return s.failCount.Add(1) }

// Weights returns the donor weights, or nil before a solve
func (s *Store) Weights() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.weights...)
}

// Importance returns the diagonal of V, or nil before a solve
func (s *Store) Importance() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.importance...)
}

// ImportanceMatrix returns V as a K x K diagonal matrix, or nil before a solve
func (s *Store) ImportanceMatrix() *mat.DiagDense {
	v := s.Importance()
	if v == nil {
		return nil
	}
	return mat.NewDiagDense(len(v), v)
}

func (s *Store) setSolution(w, v []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = append([]float64(nil), w...)
	s.importance = append([]float64(nil), v...)
}

// TreatmentEffect returns the known effect per post-treatment period, or nil
func (s *Store) TreatmentEffect() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]float64(nil), s.treatmentEffect...)
}

// SetTreatmentEffect records a known treatment effect for simulation checks.
// A single value applies to every post-treatment period. The solvers never read it.
func (s *Store) SetTreatmentEffect(effect []float64) error {
	post := s.dims.PeriodsAll - s.dims.PeriodsPre
	switch len(effect) {
	case 0:
		s.mu.Lock()
		s.treatmentEffect = nil
		s.mu.Unlock()
		return nil
	case 1:
		expanded := make([]float64, post)
		for i := range expanded {
			expanded[i] = effect[0]
		}
		effect = expanded
	case post:
		effect = append([]float64(nil), effect...)
	default:
		return newMalformedPanel("treatment_effect", "treatment effect length must be 1 or the number of post periods", len(effect), s.dims)
	}

	for _, e := range effect {
		if math.IsNaN(e) || math.IsInf(e, 0) {
			return newMalformedPanel("treatment_effect", "non-finite treatment effect", e, s.dims)
		}
	}

	s.mu.Lock()
	s.treatmentEffect = effect
	s.mu.Unlock()
	return nil
}

// synthetic returns the synthetic control path Y0 w over all periods
func (s *Store) synthetic(w []float64) *mat.VecDense {
	out := mat.NewVecDense(s.dims.PeriodsAll, nil)
	out.MulVec(s.y0, mat.NewVecDense(len(w), w))
	return out
}

// mspe returns the mean squared gap between the treated and synthetic
// outcomes over periods [from, to).
func (s *Store) mspe(w []float64, from, to int) float64 {
	synthetic := s.synthetic(w)
	sum := 0.0
	for t := from; t < to; t++ {
		gap := s.y1.AtVec(t) - synthetic.AtVec(t)
		sum += gap * gap
	}
	return sum / float64(to-from)
}

// PreMSPE returns (1/T_pre) * ||Z1 - Z0 w||^2
func (s *Store) PreMSPE(w []float64) float64 {
	return s.mspe(w, 0, s.dims.PeriodsPre)
}
