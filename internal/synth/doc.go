// Package synth implements synthetic control estimation for a single treated unit.
//
// Given one treated unit and a panel of control units observed over time on an
// outcome and a set of covariates, the package builds a convex combination of the
// controls (the synthetic control) whose pre-treatment trajectory tracks the
// treated unit. The synthetic control then serves as the counterfactual outcome
// after treatment, and the gap between the two is the estimated treatment effect.
//
// # Core Components
//
// Estimation is a nested optimization:
//
//  1. Weight Solver (inner): for a fixed diagonal importance matrix V, minimize
//     (X1 - X0 W)' V (X1 - X0 W) over donor weights W with W >= 0 and sum(W) = 1.
//  2. Importance Solver (outer): search diagonal V with non-negative entries summing
//     to one for the V whose W(V) minimizes the pre-treatment MSPE
//     (1/T_pre) * ||Z1 - Z0 W(V)||^2.
//
// # Architecture
//
//   - frame.go: Frame, the long-format input table
//   - panel.go: PanelSpec and covariate selection
//   - ingest.go: validation and reshaping of the panel into matrices
//   - store.go: Store, the matrices and solution state of one run
//   - simplex.go: projection onto the probability simplex
//   - weights.go: inner solver (accelerated projected gradient)
//   - importance.go: outer solver (multi-start Nelder-Mead)
//   - estimator.go: Estimator, orchestration, logging and tracing
//   - result.go: fitted weights, counterfactual, gaps and balance
//   - transform.go: per-unit mean subtraction
//   - options.go: Options, defaults and functional options
//   - telemetry.go: OpenTelemetry instruments
//   - errors.go: MalformedPanelError, WeightOptimizationError, EstimationFailedError
//
// # Usage Example
//
//	frame, err := synth.NewFrame(
//	    synth.TextColumn("id", ids...),
//	    synth.NumericColumn("time", times...),
//	    synth.NumericColumn("gdp", gdp...),
//	    synth.NumericColumn("investment", investment...),
//	)
//	if err != nil {
//	    return err
//	}
//
//	estimator, err := synth.NewEstimator(synth.DefaultOptions(), synth.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//
//	result, err := estimator.Fit(ctx, frame, synth.PanelSpec{
//	    ID:              "id",
//	    Time:            "time",
//	    Outcome:         "gdp",
//	    TreatmentPeriod: 1990,
//	    TreatedUnit:     "West Germany",
//	})
//	if err != nil {
//	    return err
//	}
//
//	for _, dw := range result.DonorWeights() {
//	    fmt.Printf("%s: %.3f\n", dw.Unit, dw.Weight)
//	}
//
// # Panel Contract
//
// The input has one row per (unit, period), grouped by unit with ascending
// periods, and every unit is observed at every period. Ingest reports any
// violation as a *MalformedPanelError carrying the panel dimensions; it never
// reshapes an irregular panel silently.
//
// # Numerical Notes
//
// Covariates are standardized by their standard deviation across units before
// matching, so V is reported on the standardized scale. Restarts of the outer
// search run concurrently and the winner is chosen by strict MSPE comparison,
// with ties going to the lowest restart index, so results are reproducible for
// a given Seed regardless of scheduling.
package synth
