package synth

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Inner solver defaults
const (
	DefaultInnerMaxIterations = 20000
	DefaultInnerTolerance     = 1e-10

	// acceptGap is the relative Frank-Wolfe gap still accepted once the
	// iteration budget is spent. Flat directions of the objective can keep
	// iterates moving long after the loss has settled.
	acceptGap = 1e-6
)

// WeightSolver solves the inner quadratic program for the donor weights
// given a fixed diagonal importance matrix.
type WeightSolver struct {
	MaxIterations int     `json:"max_iterations" validate:"min=1"`
	Tolerance     float64 `json:"tolerance" validate:"gt=0"`
	// Standardize solves on covariates scaled by their spread across units
	Standardize bool `json:"standardize"`
}

// DefaultWeightSolver returns the solver used by DefaultOptions
func DefaultWeightSolver() WeightSolver {
	return WeightSolver{
		MaxIterations: DefaultInnerMaxIterations,
		Tolerance:     DefaultInnerTolerance,
		Standardize:   true,
	}
}

// WeightSolution is the result of one inner solve
type WeightSolution struct {
	W          []float64 `json:"w"`
	Loss       float64   `json:"loss"`
	Iterations int       `json:"iterations"`
	// RefineIterations counts the outcome tie-break iterations, zero when W was already unique
	RefineIterations int `json:"refine_iterations"`
}

// Solve minimizes (X1 - X0 W)' V (X1 - X0 W) over the simplex using the
// covariates held by store. start may be nil for uniform weights.
// A failure increments the store's fail count and returns *WeightOptimizationError.
//
// When several W reach the same loss, Solve returns the one among them with
// the lowest pre-treatment MSPE (see preferOutcomeFit).
func (s WeightSolver) Solve(store *Store, v, start []float64) (WeightSolution, error) {
	x1, x0 := store.covariateMatrices(s.Standardize)
	sol, err := SolveWeights(x1, x0, v, start, s)
	if err != nil {
		store.recordFailure()
		if woe, ok := err.(*WeightOptimizationError); ok {
			woe.Dims = store.Dimensions()
			woe.AppError.WithContext("dimensions", woe.Dims)
		}
		return WeightSolution{}, err
	}
	return preferOutcomeFit(newQuadratic(x1, x0, v), store.z1, store.z0, sol, s), nil
}

// SolveWeights minimizes loss_V(W) = (x1 - x0 W)' diag(v) (x1 - x0 W)
// subject to W >= 0 and sum(W) = 1.
//
// The solver is accelerated projected gradient (FISTA) with adaptive
// restart and an exact projection onto the simplex, so every iterate is a
// convex combination. It stops when the largest weight change falls below
// cfg.Tolerance or when the Frank-Wolfe duality gap certifies optimality.
func SolveWeights(x1 mat.Vector, x0 mat.Matrix, v, start []float64, cfg WeightSolver) (WeightSolution, error) {
	k, n := x0.Dims()
	dims := Dimensions{Controls: n, Covariates: k}

	if x1.Len() != k {
		return WeightSolution{}, newWeightOptimization(
			fmt.Sprintf("treated covariates have length %d, expected %d", x1.Len(), k), nil, v, 0, dims)
	}
	if err := checkImportance(v, k); err != nil {
		return WeightSolution{}, newWeightOptimization("invalid importance weights", err, v, 0, dims)
	}
	if !allFinite(x0) || !allFinite(x1) {
		return WeightSolution{}, newWeightOptimization("covariates contain non-finite values", nil, v, 0, dims)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultInnerMaxIterations
	}
	if !(cfg.Tolerance > 0) {
		cfg.Tolerance = DefaultInnerTolerance
	}

	q := newQuadratic(x1, x0, v)

	w := startingPoint(start, n)
	if n == 1 {
		return q.solution(w, 0)
	}

	lipschitz := q.lipschitz()
	if !(lipschitz > 0) || math.IsInf(lipschitz, 0) {
		// The imbalance does not depend on W: any feasible point is optimal.
		return q.solution(w, 0)
	}
	step := 1 / lipschitz

	y := append([]float64(nil), w...)
	next := make([]float64, n)
	grad := make([]float64, n)
	momentum := 1.0

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		q.gradient(grad, y)
		for i := range next {
			next[i] = y[i] - step*grad[i]
		}
		ProjectSimplex(next, next)

		delta := 0.0
		restart := 0.0
		for i := range next {
			delta = math.Max(delta, math.Abs(next[i]-w[i]))
			restart += (y[i] - next[i]) * (next[i] - w[i])
		}

		momentumNext := (1 + math.Sqrt(1+4*momentum*momentum)) / 2
		if restart > 0 {
			momentumNext = 1
			copy(y, next)
		} else {
			beta := (momentum - 1) / momentumNext
			for i := range y {
				y[i] = next[i] + beta*(next[i]-w[i])
			}
		}
		momentum = momentumNext
		copy(w, next)

		if delta < cfg.Tolerance {
			return q.solution(w, iter)
		}
		if gap, loss := q.gap(grad, w); gap <= cfg.Tolerance*(1+loss) {
			return q.solution(w, iter)
		}
	}

	if gap, loss := q.gap(grad, w); gap <= acceptGap*(1+loss) {
		return q.solution(w, cfg.MaxIterations)
	}
	return WeightSolution{}, newWeightOptimization(
		fmt.Sprintf("no convergence within %d iterations", cfg.MaxIterations), nil, v, cfg.MaxIterations, dims)
}

// checkImportance rejects importance weights that cannot define a loss
func checkImportance(v []float64, k int) error {
	if len(v) != k {
		return fmt.Errorf("importance has length %d, expected %d", len(v), k)
	}
	sum := 0.0
	for i, vi := range v {
		if math.IsNaN(vi) || math.IsInf(vi, 0) || vi < 0 {
			return fmt.Errorf("importance entry %d is %v", i, vi)
		}
		sum += vi
	}
	if !(sum > 0) {
		return fmt.Errorf("importance diagonal is all zero")
	}
	return nil
}

// startingPoint returns a feasible copy of start, or uniform weights
func startingPoint(start []float64, n int) []float64 {
	if len(start) != n {
		return uniform(n)
	}
	for _, s := range start {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return uniform(n)
		}
	}
	if OnSimplex(start) {
		return append([]float64(nil), start...)
	}
	return ProjectSimplex(nil, start)
}

// quadratic is the inner objective expanded as w'Hw - 2b'w + c
// with H = X0' V X0 and b = X0' V X1.
type quadratic struct {
	x1 mat.Vector
	x0 mat.Matrix
	v  []float64
	a  *mat.Dense // V^(1/2) X0
	h  *mat.SymDense
	b  *mat.VecDense
	hw *mat.VecDense
}

func newQuadratic(x1 mat.Vector, x0 mat.Matrix, v []float64) *quadratic {
	k, n := x0.Dims()

	// A = V^(1/2) X0 so that H = A'A
	a := mat.NewDense(k, n, nil)
	sv := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		root := math.Sqrt(v[i])
		sv.SetVec(i, root*x1.AtVec(i))
		for j := 0; j < n; j++ {
			a.Set(i, j, root*x0.At(i, j))
		}
	}

	h := mat.NewSymDense(n, nil)
	h.SymOuterK(1, a.T())

	b := mat.NewVecDense(n, nil)
	b.MulVec(a.T(), sv)

	return &quadratic{x1: x1, x0: x0, v: v, a: a, h: h, b: b, hw: mat.NewVecDense(n, nil)}
}

// lipschitz returns the Lipschitz constant of the gradient, 2*lambda_max(H).
// The Frobenius norm bounds lambda_max when the eigen decomposition fails.
func (q *quadratic) lipschitz() float64 {
	return 2 * lambdaMax(q.h)
}

// lambdaMax returns the largest eigenvalue of s, or its Frobenius norm
// when the decomposition fails.
func lambdaMax(s *mat.SymDense) float64 {
	var eig mat.EigenSym
	if eig.Factorize(s, false) {
		values := eig.Values(nil)
		return values[len(values)-1]
	}
	return mat.Norm(s, 2)
}

// gradient writes 2(Hw - b) into dst
func (q *quadratic) gradient(dst, w []float64) {
	q.hw.MulVec(q.h, mat.NewVecDense(len(w), w))
	for i := range dst {
		dst[i] = 2 * (q.hw.AtVec(i) - q.b.AtVec(i))
	}
}

// loss evaluates the weighted imbalance from the residual X1 - X0 w
func (q *quadratic) loss(w []float64) float64 {
	k, _ := q.x0.Dims()
	var fitted mat.VecDense
	fitted.MulVec(q.x0, mat.NewVecDense(len(w), w))

	loss := 0.0
	for i := 0; i < k; i++ {
		r := q.x1.AtVec(i) - fitted.AtVec(i)
		loss += q.v[i] * r * r
	}
	return loss
}

// gap returns the Frank-Wolfe duality gap at w and the loss there.
// grad is used as scratch space.
func (q *quadratic) gap(grad, w []float64) (float64, float64) {
	q.gradient(grad, w)
	return floats.Dot(grad, w) - floats.Min(grad), q.loss(w)
}

// solution clips and renormalizes w and scores it
func (q *quadratic) solution(w []float64, iterations int) (WeightSolution, error) {
	_, n := q.x0.Dims()
	dims := Dimensions{Controls: n, Covariates: len(q.v)}

	w = append([]float64(nil), w...)
	if !normalizeSimplex(w) {
		return WeightSolution{}, newWeightOptimization("weights collapsed to zero", nil, q.v, iterations, dims)
	}
	loss := q.loss(w)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return WeightSolution{}, newWeightOptimization("loss is not finite", nil, q.v, iterations, dims)
	}
	return WeightSolution{W: w, Loss: loss, Iterations: iterations}, nil
}
