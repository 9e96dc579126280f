package synth

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ProjectSimplex writes into dst the Euclidean projection of v onto the
// probability simplex {w : w >= 0, sum(w) = 1} and returns dst.
// dst may alias v. If dst is nil a new slice is allocated.
func ProjectSimplex(dst, v []float64) []float64 {
	n := len(v)
	if dst == nil {
		dst = make([]float64, n)
	}
	if n == 0 {
		return dst[:0]
	}

	u := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	var cumsum, theta float64
	for j, uj := range u {
		cumsum += uj
		t := (cumsum - 1) / float64(j+1)
		if uj-t > 0 {
			theta = t
		}
	}

	for i, vi := range v {
		dst[i] = math.Max(vi-theta, 0)
	}
	return dst
}

// normalizeSimplex clips negatives to zero and rescales so the entries sum to one.
// It returns false when nothing positive remains.
func normalizeSimplex(w []float64) bool {
	for i, wi := range w {
		if !(wi > 0) {
			w[i] = 0
		}
	}
	sum := floats.Sum(w)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return false
	}
	floats.Scale(1/sum, w)
	return true
}

// uniform returns the barycenter of the n-simplex
func uniform(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// OnSimplex reports whether w is a convex weight vector within SimplexTolerance
func OnSimplex(w []float64) bool {
	if len(w) == 0 {
		return false
	}
	for _, wi := range w {
		if wi < 0 || math.IsNaN(wi) {
			return false
		}
	}
	return math.Abs(floats.Sum(w)-1) <= SimplexTolerance
}
