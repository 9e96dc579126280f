package synth

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Result is a fitted synthetic control. It is immutable; accessors return copies.
type Result struct {
	RunID string `json:"run_id"`

	store          *Store
	solution       ImportanceSolution
	counterfactual []float64
}

func newResult(runID string, store *Store, solution ImportanceSolution) *Result {
	return &Result{
		RunID:          runID,
		store:          store,
		solution:       solution,
		counterfactual: store.synthetic(solution.W).RawVector().Data,
	}
}

// Store returns the matrix store the result was fitted on
func (r *Result) Store() *Store { return r.store }

// Solution returns the raw importance search outcome
func (r *Result) Solution() ImportanceSolution {
	sol := r.solution
	sol.V = append([]float64(nil), sol.V...)
	sol.W = append([]float64(nil), sol.W...)
	return sol
}

// Weights maps each control unit to its donor weight
func (r *Result) Weights() map[string]float64 {
	out := make(map[string]float64, len(r.store.controls))
	for i, id := range r.store.controls {
		out[id] = r.solution.W[i]
	}
	return out
}

// Importance maps each covariate to its importance weight
func (r *Result) Importance() map[string]float64 {
	out := make(map[string]float64, len(r.store.covariates))
	for i, name := range r.store.covariates {
		out[name] = r.solution.V[i]
	}
	return out
}

// DonorWeights lists the donor weights by decreasing weight, ties by unit id
func (r *Result) DonorWeights() []UnitWeight {
	out := make([]UnitWeight, len(r.store.controls))
	for i, id := range r.store.controls {
		out[i] = UnitWeight{Unit: id, Weight: r.solution.W[i]}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Unit < out[j].Unit
	})
	return out
}

// Counterfactual returns the synthetic control outcome Y0 W for every period
func (r *Result) Counterfactual() []Point {
	return r.series(0, r.store.dims.PeriodsAll, func(t int) float64 {
		return r.counterfactual[t]
	})
}

// Treated returns the treated unit's observed outcome for every period
func (r *Result) Treated() []Point {
	return r.series(0, r.store.dims.PeriodsAll, r.store.y1.AtVec)
}

// Gaps returns treated minus counterfactual for every period
func (r *Result) Gaps() []Point {
	return r.series(0, r.store.dims.PeriodsAll, r.gap)
}

// TreatmentEffects returns the estimated effect for each post-treatment period
func (r *Result) TreatmentEffects() []Point {
	return r.series(r.store.dims.PeriodsPre, r.store.dims.PeriodsAll, r.gap)
}

func (r *Result) gap(t int) float64 {
	return r.store.y1.AtVec(t) - r.counterfactual[t]
}

func (r *Result) series(from, to int, value func(int) float64) []Point {
	out := make([]Point, 0, to-from)
	for t := from; t < to; t++ {
		out = append(out, Point{Period: r.store.periods[t], Value: value(t)})
	}
	return out
}

// PreMSPE returns the mean squared gap over the pre-treatment periods
func (r *Result) PreMSPE() float64 {
	return r.store.mspe(r.solution.W, 0, r.store.dims.PeriodsPre)
}

// PostMSPE returns the mean squared gap over the post-treatment periods
func (r *Result) PostMSPE() float64 {
	return r.store.mspe(r.solution.W, r.store.dims.PeriodsPre, r.store.dims.PeriodsAll)
}

// RMSPERatio returns sqrt(PostMSPE / PreMSPE). An exact pre-treatment fit
// gives +Inf, or zero when the post-treatment fit is exact as well.
func (r *Result) RMSPERatio() float64 {
	pre, post := r.PreMSPE(), r.PostMSPE()
	if pre == 0 {
		if post == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Sqrt(post / pre)
}

// Termination reports why the importance search stopped
func (r *Result) Termination() Termination { return r.solution.Termination }

// FailCount returns the number of inner solves that failed during the fit
func (r *Result) FailCount() int64 { return r.store.FailCount() }

// Balance compares every covariate across the treated unit, the synthetic
// control and the unweighted donor pool, on the original scale.
func (r *Result) Balance() []PredictorBalance {
	var synthetic mat.VecDense
	synthetic.MulVec(r.store.x0, mat.NewVecDense(len(r.solution.W), r.solution.W))

	row := make([]float64, r.store.dims.Controls)
	out := make([]PredictorBalance, r.store.dims.Covariates)
	for k, name := range r.store.covariates {
		mat.Row(row, k, r.store.x0)
		out[k] = PredictorBalance{
			Covariate:  name,
			Importance: r.solution.V[k],
			Treated:    r.store.x1.AtVec(k),
			Synthetic:  synthetic.AtVec(k),
			DonorMean:  stat.Mean(row, nil),
		}
	}
	return out
}

// EffectError returns the mean absolute difference between the estimated
// and the known treatment effects. ok is false when no effect was recorded.
func (r *Result) EffectError() (float64, bool) {
	truth := r.store.TreatmentEffect()
	if truth == nil {
		return 0, false
	}
	effects := r.TreatmentEffects()
	diffs := make([]float64, len(effects))
	for i, e := range effects {
		diffs[i] = math.Abs(e.Value - truth[i])
	}
	return floats.Sum(diffs) / float64(len(diffs)), true
}
