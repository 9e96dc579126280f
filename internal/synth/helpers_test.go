package synth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"synthcontrol/internal/shared/testutil"
)

// Reference panel: eight periods from 2000, treatment in 2005, three controls
// and two covariates. Without treatment, A = 0.7 B + 0.3 C exactly, in both
// outcomes and covariates, and no other convex combination of B, C and D fits.
// Adding control E gives more controls than covariates: the covariates then
// match along a whole segment of weights and only the outcomes single out
// 0.7 B + 0.3 C.
var (
	refPeriods   = testutil.Periods(2000, 8)
	refTreatment = 2005.0

	refOutcomeB = []float64{10, 11, 12, 13, 14, 15, 16, 17}
	refOutcomeC = []float64{20, 18, 19, 15, 16, 14, 17, 12}
	refOutcomeD = []float64{5, 9, 6, 11, 8, 13, 10, 15}

	refCovariatesB = [2]float64{1, 5}
	refCovariatesC = [2]float64{4, 1}
	refCovariatesD = [2]float64{8, 9}

	refWeights = []float64{0.7, 0.3, 0}

	refOutcomeE    = []float64{12, 7, 14, 9, 13, 8, 15, 10}
	refCovariatesE = [2]float64{0, 0}

	// refFaceDirection spans the weights that keep A's covariates matched
	// in the four-control panel: X0 d = 0 and sum(d) = 0 over B, C, D, E.
	refFaceDirection = []float64{-28, -31, 19, 40}
)

func refSpec() PanelSpec {
	return PanelSpec{
		ID:              "id",
		Time:            "time",
		Outcome:         "outcome",
		TreatmentPeriod: refTreatment,
		TreatedUnit:     "A",
	}
}

// refUntreated is the treated unit's outcome in the absence of treatment
func refUntreated() []float64 {
	return testutil.Combine([]float64{0.7, 0.3}, refOutcomeB, refOutcomeC)
}

// refFixture builds the reference panel with effect added to every
// post-treatment outcome of A.
func refFixture(effect float64) *testutil.PanelFixture {
	n := len(refPeriods)
	outcomeA := refUntreated()
	for t := range outcomeA {
		if refPeriods[t] >= refTreatment {
			outcomeA[t] += effect
		}
	}

	cov := func(c [2]float64) [][]float64 {
		return [][]float64{testutil.Constant(c[0], n), testutil.Constant(c[1], n)}
	}
	covA := [2]float64{
		0.7*refCovariatesB[0] + 0.3*refCovariatesC[0],
		0.7*refCovariatesB[1] + 0.3*refCovariatesC[1],
	}

	p := testutil.NewPanelFixture(refPeriods, "outcome", "x1", "x2")
	p.AddUnit("A", append([][]float64{outcomeA}, cov(covA)...)...)
	p.AddUnit("B", append([][]float64{refOutcomeB}, cov(refCovariatesB)...)...)
	p.AddUnit("C", append([][]float64{refOutcomeC}, cov(refCovariatesC)...)...)
	p.AddUnit("D", append([][]float64{refOutcomeD}, cov(refCovariatesD)...)...)
	return p
}

// fourControlFixture is refFixture with control E appended
func fourControlFixture(effect float64) *testutil.PanelFixture {
	n := len(refPeriods)
	return refFixture(effect).AddUnit("E", refOutcomeE,
		testutil.Constant(refCovariatesE[0], n), testutil.Constant(refCovariatesE[1], n))
}

// fixtureFrame turns a fixture into a Frame with id and time columns first
func fixtureFrame(t testing.TB, p *testutil.PanelFixture) *Frame {
	t.Helper()
	cols := []Column{
		TextColumn("id", p.IDs...),
		NumericColumn("time", p.Times...),
	}
	for _, name := range p.Columns {
		cols = append(cols, NumericColumn(name, p.Values[name]...))
	}
	f, err := NewFrame(cols...)
	require.NoError(t, err)
	return f
}

func refFrame(t testing.TB) *Frame {
	return fixtureFrame(t, refFixture(0))
}

func refStore(t testing.TB) *Store {
	t.Helper()
	store, err := Ingest(refFrame(t), refSpec())
	require.NoError(t, err)
	return store
}

// testOptions keeps searches short and deterministic
func testOptions() Options {
	opts := DefaultOptions()
	opts.Restarts = 3
	opts.MaxConcurrency = 2
	opts.OuterMaxEvaluations = 2000
	return opts
}

// assertOnSimplex checks the convex-weight invariants
func assertOnSimplex(t testing.TB, w []float64) {
	t.Helper()
	require.NotEmpty(t, w)
	sum := 0.0
	for i, wi := range w {
		require.GreaterOrEqual(t, wi, 0.0, "entry %d is negative", i)
		sum += wi
	}
	require.InDelta(t, 1.0, sum, SimplexTolerance)
}
