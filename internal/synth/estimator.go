package synth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"synthcontrol/internal/infrastructure"
)

// Estimator fits synthetic controls. It holds configuration only; every
// fit owns a fresh Store, so one Estimator may serve concurrent fits.
type Estimator struct {
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	telemetry *telemetry

	initialWeights  map[string]float64
	fixedImportance map[string]float64
	treatmentEffect []float64
}

// NewEstimator validates opts and applies the functional options
func NewEstimator(opts Options, options ...Option) (*Estimator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	e := &Estimator{
		opts:   opts,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(e)
	}
	e.telemetry = newTelemetry(e.tracer, e.meter, e.logger)
	return e, nil
}

// Options returns the estimation parameters
func (e *Estimator) Options() Options {
	return e.opts
}

// Fit ingests the panel and estimates the synthetic control for spec.TreatedUnit.
func (e *Estimator) Fit(ctx context.Context, frame *Frame, spec PanelSpec) (*Result, error) {
	ctx = infrastructure.EnsureRunID(ctx)

	store, err := Ingest(frame, spec)
	if err != nil {
		e.logger.ErrorContext(ctx, "panel ingestion failed",
			"treated_unit", spec.TreatedUnit,
			"error", err,
		)
		return nil, fmt.Errorf("ingest panel: %w", err)
	}
	return e.FitStore(ctx, store)
}

// FitStore estimates the synthetic control on an already built Store.
// The store receives the fitted W and V.
func (e *Estimator) FitStore(ctx context.Context, store *Store) (*Result, error) {
	ctx = infrastructure.EnsureRunID(ctx)
	runID := infrastructure.RunIDFromContext(ctx)
	dims := store.Dimensions()
	start := time.Now()

	ctx, span := e.telemetry.tracer.Start(ctx, "synth.Fit",
		trace.WithAttributes(append(dimensionAttributes(dims),
			attribute.String("run_id", runID),
			attribute.String("treated_unit", store.TreatedUnit()),
		)...))
	defer span.End()

	e.logger.InfoContext(ctx, "starting synthetic control fit",
		"treated_unit", store.TreatedUnit(),
		"periods_all", dims.PeriodsAll,
		"periods_pre", dims.PeriodsPre,
		"n_controls", dims.Controls,
		"n_covariates", dims.Covariates,
		"restarts", e.opts.Restarts,
	)

	if len(e.treatmentEffect) > 0 {
		if err := store.SetTreatmentEffect(e.treatmentEffect); err != nil {
			return nil, e.fail(ctx, span, start, fmt.Errorf("set treatment effect: %w", err))
		}
	}

	solver := newImportanceSolver(e.opts, e.logger, e.telemetry)
	if e.initialWeights != nil {
		solver.start = alignWeights(e.initialWeights, store.controls)
	}

	var (
		solution ImportanceSolution
		err      error
	)
	if e.fixedImportance != nil {
		solution, err = e.solveFixed(ctx, store, solver)
	} else {
		solution, err = solver.Solve(ctx, store)
	}
	if err != nil {
		return nil, e.fail(ctx, span, start, err)
	}

	elapsed := time.Since(start)
	e.telemetry.recordFit(ctx, elapsed, solution.Termination.String())

	result := newResult(runID, store, solution)

	span.SetAttributes(
		attribute.String("termination", solution.Termination.String()),
		attribute.Float64("pre_mspe", solution.MSPE),
		attribute.Int64("fail_count", store.FailCount()),
	)
	e.logger.InfoContext(ctx, "synthetic control fit complete",
		"treated_unit", store.TreatedUnit(),
		"duration", elapsed,
		"mspe", solution.MSPE,
		"termination", solution.Termination.String(),
		"restart", solution.Restart,
		"evaluations", solution.Evaluations,
		"fail_count", store.FailCount(),
	)

	return result, nil
}

// solveFixed solves the donor weights for caller supplied importance
func (e *Estimator) solveFixed(ctx context.Context, store *Store, solver *ImportanceSolver) (ImportanceSolution, error) {
	v := alignWeights(e.fixedImportance, store.covariates)
	if !normalizeSimplex(v) {
		return ImportanceSolution{}, newEstimationFailed(
			"fixed importance has no positive entry for the panel covariates", nil, RetryLimit, store.FailCount(), store.Dimensions())
	}

	e.telemetry.recordEvaluation(ctx)
	sol, err := solver.inner.Solve(store, v, solver.start)
	e.telemetry.recordInnerSolve(ctx, err != nil)
	if err != nil {
		return ImportanceSolution{}, newEstimationFailed(
			"weight solve failed for the fixed importance", err, RetryLimit, store.FailCount(), store.Dimensions())
	}

	store.setSolution(sol.W, v)
	return ImportanceSolution{
		V:           v,
		W:           sol.W,
		MSPE:        store.PreMSPE(sol.W),
		Termination: Converged,
		Evaluations: 1,
	}, nil
}

// fail records a fatal error on the span, the duration histogram and the log
func (e *Estimator) fail(ctx context.Context, span trace.Span, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	termination := "error"
	if efe, ok := asEstimationFailed(err); ok {
		termination = efe.Termination.String()
	}
	e.telemetry.recordFit(ctx, time.Since(start), termination)

	e.logger.ErrorContext(ctx, "synthetic control fit failed", "error", err)
	return err
}

// alignWeights orders a keyed weight map along names; missing keys are zero
func alignWeights(weights map[string]float64, names []string) []float64 {
	out := make([]float64, len(names))
	for i, name := range names {
		out[i] = weights[name]
	}
	return out
}
