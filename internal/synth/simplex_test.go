package synth

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func TestProjectSimplex(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"already feasible", []float64{0.2, 0.3, 0.5}, []float64{0.2, 0.3, 0.5}},
		{"uniform shift", []float64{1, 1}, []float64{0.5, 0.5}},
		{"single dominant", []float64{5, 0, 0}, []float64{1, 0, 0}},
		{"negative entries clipped", []float64{0.5, -1, 0.7}, []float64{0.4, 0, 0.6}},
		{"all zero", []float64{0, 0, 0, 0}, []float64{0.25, 0.25, 0.25, 0.25}},
		{"one element", []float64{-3}, []float64{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProjectSimplex(nil, tt.in)
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
}

func TestProjectSimplex_InPlace(t *testing.T) {
	v := []float64{3, 1, -2}
	out := ProjectSimplex(v, v)
	assert.Same(t, &v[0], &out[0])
	assert.InDeltaSlice(t, []float64{1, 0, 0}, v, 1e-12)
}

func TestProjectSimplex_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(12)
		v := make([]float64, n)
		for i := range v {
			v[i] = rng.NormFloat64() * 3
		}
		p := ProjectSimplex(nil, v)
		assertOnSimplex(t, p)

		// projecting twice changes nothing
		assert.InDeltaSlice(t, p, ProjectSimplex(nil, p), 1e-12)

		// no feasible point is closer to v than p
		q := ProjectSimplex(nil, uniform(n))
		assert.LessOrEqual(t, floats.Distance(p, v, 2), floats.Distance(q, v, 2)+1e-12)
	}
}

func TestOnSimplex(t *testing.T) {
	assert.True(t, OnSimplex([]float64{0.5, 0.5}))
	assert.True(t, OnSimplex([]float64{1, 0, 0}))
	assert.False(t, OnSimplex(nil))
	assert.False(t, OnSimplex([]float64{0.6, 0.6}))
	assert.False(t, OnSimplex([]float64{1.5, -0.5}))
	assert.False(t, OnSimplex([]float64{math.NaN(), 1}))
}

func TestNormalizeSimplex(t *testing.T) {
	w := []float64{2, -1, 6}
	assert.True(t, normalizeSimplex(w))
	assert.InDeltaSlice(t, []float64{0.25, 0, 0.75}, w, 1e-15)

	assert.False(t, normalizeSimplex([]float64{0, -1}))
	assert.False(t, normalizeSimplex([]float64{math.NaN()}))
}
