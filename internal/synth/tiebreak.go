package synth

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// faceRank is the relative singular value below which a direction counts
// as part of the null space of the optimal face constraints.
const faceRank = 1e-10

// refineMaxIterations caps the ADMM iterations of the outcome tie-break
const refineMaxIterations = 5000

// preferOutcomeFit picks, among the weights that attain sol.Loss, the one
// with the lowest pre-treatment MSPE.
//
// With more controls than covariates the optimal set of the inner program
// is a face {w on the simplex : A w = A w*} with A = V^(1/2) X0. The search
// runs ADMM on that face: the affine part is solved in closed form over a
// null-space basis of [A; 1'], the simplex part is a projection.
// Any candidate that loses covariate fit or does not improve the MSPE is
// discarded and sol is returned unchanged.
func preferOutcomeFit(q *quadratic, z1 mat.Vector, z0 mat.Matrix, sol WeightSolution, cfg WeightSolver) WeightSolution {
	if z1 == nil || z0 == nil || z1.Len() == 0 {
		return sol
	}
	null := faceDirections(q.a)
	if null == nil {
		return sol
	}
	_, n := null.Dims()
	t, controls := z0.Dims()
	w1 := sol.W

	// MSPE(w) = w'Qw - 2m'w + c over T_pre periods
	var qm mat.SymDense
	qm.SymOuterK(1/float64(t), z0.T())
	m := mat.NewVecDense(controls, nil)
	m.MulVec(z0.T(), z1)
	m.ScaleVec(1/float64(t), m)

	var reduced mat.Dense
	reduced.Product(null.T(), &qm, null)
	r := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			r.SetSym(i, j, 0.5*(reduced.At(i, j)+reduced.At(j, i)))
		}
	}
	rho := 2 * lambdaMax(r)
	if !(rho > 0) || math.IsInf(rho, 0) {
		rho = 1
	}

	system := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			value := 2 * r.At(i, j)
			if i == j {
				value += rho
			}
			system.SetSym(i, j, value)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(system) {
		return sol
	}

	// base = 2 N'(m - Q w1)
	wv := mat.NewVecDense(controls, append([]float64(nil), w1...))
	residual := mat.NewVecDense(controls, nil)
	residual.MulVec(&qm, wv)
	residual.SubVec(m, residual)
	base := mat.NewVecDense(n, nil)
	base.MulVec(null.T(), residual)
	base.ScaleVec(2, base)

	x := append([]float64(nil), w1...)
	z := append([]float64(nil), w1...)
	u := make([]float64, controls)
	prev := make([]float64, controls)
	d := mat.NewVecDense(controls, nil)
	rhs := mat.NewVecDense(n, nil)
	y := mat.NewVecDense(n, nil)
	step := mat.NewVecDense(controls, nil)
	shifted := make([]float64, controls)

	limit := cfg.MaxIterations
	if limit > refineMaxIterations {
		limit = refineMaxIterations
	}
	iterations := 0
	for iterations < limit {
		iterations++
		for i := 0; i < controls; i++ {
			d.SetVec(i, w1[i]-z[i]+u[i])
		}
		rhs.MulVec(null.T(), d)
		rhs.AddScaledVec(base, -rho, rhs)
		if err := chol.SolveVecTo(y, rhs); err != nil {
			return sol
		}
		step.MulVec(null, y)
		for i := range x {
			x[i] = w1[i] + step.AtVec(i)
			shifted[i] = x[i] + u[i]
		}
		copy(prev, z)
		ProjectSimplex(z, shifted)

		primal, dual := 0.0, 0.0
		for i := range u {
			u[i] += x[i] - z[i]
			primal = math.Max(primal, math.Abs(x[i]-z[i]))
			dual = math.Max(dual, math.Abs(z[i]-prev[i]))
		}
		if primal < cfg.Tolerance && rho*dual < cfg.Tolerance {
			break
		}
	}

	candidate, err := q.solution(z, sol.Iterations)
	if err != nil {
		return sol
	}
	if candidate.Loss > sol.Loss+1e-9*(1+sol.Loss) {
		return sol
	}
	if mspe(z1, z0, candidate.W) >= mspe(z1, z0, w1) {
		return sol
	}
	candidate.RefineIterations = iterations
	return candidate
}

// faceDirections returns an orthonormal basis of the null space of [a; 1'],
// or nil when that null space is trivial and the optimum is unique.
func faceDirections(a *mat.Dense) *mat.Dense {
	k, n := a.Dims()
	if n < 2 {
		return nil
	}
	b := mat.NewDense(k+1, n, nil)
	b.Slice(0, k, 0, n).(*mat.Dense).Copy(a)
	for j := 0; j < n; j++ {
		b.Set(k, j, 1)
	}

	var svd mat.SVD
	if !svd.Factorize(b, mat.SVDFull) {
		return nil
	}
	values := svd.Values(nil)
	largest := floats.Max(values)
	rank := 0
	for _, s := range values {
		if s > faceRank*largest {
			rank++
		}
	}
	if rank >= n {
		return nil
	}

	var right mat.Dense
	svd.VTo(&right)
	null := mat.NewDense(n, n-rank, nil)
	null.Copy(right.Slice(0, n, rank, n))
	return null
}

// mspe is the mean squared pre-treatment gap of the synthetic unit z0 w
func mspe(z1 mat.Vector, z0 mat.Matrix, w []float64) float64 {
	var fitted mat.VecDense
	fitted.MulVec(z0, mat.NewVecDense(len(w), w))
	total := 0.0
	for i := 0; i < z1.Len(); i++ {
		r := z1.AtVec(i) - fitted.AtVec(i)
		total += r * r
	}
	return total / float64(z1.Len())
}
