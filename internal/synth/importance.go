package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// retryLimitStatus stops a restart once the run has more inner failures than MaxFailures
var retryLimitStatus = optimize.NewStatus("RetryLimit", true, errors.New("synth: inner failures exceeded the bound"))

// ImportanceSolution is the best covariate importance found by the outer search
type ImportanceSolution struct {
	V           []float64   `json:"v"`
	W           []float64   `json:"w"`
	MSPE        float64     `json:"mspe"`
	Termination Termination `json:"termination"`
	// Restart is the index of the winning restart
	Restart int `json:"restart"`
	// Evaluations counts importance candidates across all restarts
	Evaluations int `json:"evaluations"`
}

// weightSolver is the inner solve used by the importance search
type weightSolver interface {
	Solve(store *Store, v, start []float64) (WeightSolution, error)
}

// ImportanceSolver searches the simplex of diagonal importance matrices for
// the one whose donor weights minimize the pre-treatment MSPE.
type ImportanceSolver struct {
	opts      Options
	inner     weightSolver
	start     []float64
	logger    *slog.Logger
	telemetry *telemetry
}

// NewImportanceSolver creates an importance solver. A nil logger uses slog.Default().
func NewImportanceSolver(opts Options, logger *slog.Logger) *ImportanceSolver {
	if logger == nil {
		logger = slog.Default()
	}
	return newImportanceSolver(opts, logger, newTelemetry(nil, nil, logger))
}

func newImportanceSolver(opts Options, logger *slog.Logger, tel *telemetry) *ImportanceSolver {
	return &ImportanceSolver{
		opts:      opts,
		inner:     opts.WeightSolver(),
		logger:    logger,
		telemetry: tel,
	}
}

// restartResult is what one restart reports back
type restartResult struct {
	index       int
	v           []float64
	w           []float64
	mspe        float64
	termination Termination
	evaluations int
}

// Solve runs the restarts, keeps the best solution and writes it to the store.
//
// Restarts run concurrently, each with independent state. The winner has the
// strictly lowest MSPE; results within TieTolerance go to the lower restart
// index, so the outcome does not depend on scheduling.
//
// Inner failures count against MaxFailures across the whole run. Once the
// store's FailCount exceeds it every restart stops and Solve returns
// *EstimationFailedError, whatever MSPE was reached before.
func (s *ImportanceSolver) Solve(ctx context.Context, store *Store) (ImportanceSolution, error) {
	if err := s.opts.Validate(); err != nil {
		return ImportanceSolution{}, err
	}
	dims := store.Dimensions()

	if dims.Covariates == 1 {
		return s.solveSingle(ctx, store)
	}

	var deadline time.Time
	if s.opts.Timeout > 0 {
		deadline = time.Now().Add(s.opts.Timeout)
	}

	results := make([]restartResult, s.opts.Restarts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)

	for i := 0; i < s.opts.Restarts; i++ {
		g.Go(func() error {
			res, err := s.runRestart(gctx, store, i, deadline)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ImportanceSolution{}, err
	}

	if failures := store.FailCount(); failures > int64(s.opts.MaxFailures) {
		return ImportanceSolution{}, newEstimationFailed(
			fmt.Sprintf("%d inner solves failed, bound is %d", failures, s.opts.MaxFailures),
			nil, RetryLimit, failures, dims)
	}

	evaluations := 0
	for _, r := range results {
		evaluations += r.evaluations
	}
	best := selectWinner(results, s.opts.TieTolerance)
	if best < 0 {
		last := results[len(results)-1]
		return ImportanceSolution{}, newEstimationFailed(
			"importance search found no feasible solution", nil, last.termination, store.FailCount(), dims)
	}

	winner := results[best]
	store.setSolution(winner.w, winner.v)

	s.logger.DebugContext(ctx, "importance search finished",
		"restart", winner.index,
		"mspe", winner.mspe,
		"termination", winner.termination.String(),
		"evaluations", evaluations,
		"fail_count", store.FailCount(),
	)

	return ImportanceSolution{
		V:           winner.v,
		W:           winner.w,
		MSPE:        winner.mspe,
		Termination: winner.termination,
		Restart:     winner.index,
		Evaluations: evaluations,
	}, nil
}

// solveSingle handles one covariate, where the only feasible importance is [1]
func (s *ImportanceSolver) solveSingle(ctx context.Context, store *Store) (ImportanceSolution, error) {
	v := []float64{1}
	s.telemetry.recordEvaluation(ctx)
	sol, err := s.inner.Solve(store, v, s.start)
	s.telemetry.recordInnerSolve(ctx, err != nil)
	if err != nil {
		return ImportanceSolution{}, newEstimationFailed(
			"weight solve failed for the single covariate", err, RetryLimit, store.FailCount(), store.Dimensions())
	}

	mspe := store.PreMSPE(sol.W)
	store.setSolution(sol.W, v)
	return ImportanceSolution{V: v, W: sol.W, MSPE: mspe, Termination: Converged, Evaluations: 1}, nil
}

// runRestart performs one Nelder-Mead search from its own starting point.
func (s *ImportanceSolver) runRestart(ctx context.Context, store *Store, index int, deadline time.Time) (restartResult, error) {
	ctx, span := s.telemetry.tracer.Start(ctx, "synth.restart",
		trace.WithAttributes(attribute.Int("restart", index)))
	defer span.End()

	k := store.Dimensions().Covariates
	res := restartResult{index: index, mspe: math.Inf(1)}

	settings := &optimize.Settings{
		MajorIterations: s.opts.OuterMaxIterations,
		FuncEvaluations: s.opts.OuterMaxEvaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.opts.OuterTolerance,
			Iterations: s.opts.OuterConvergenceWindow,
		},
	}
	if !deadline.IsZero() {
		// restart 0 always evaluates its starting point
		remaining := time.Until(deadline)
		if remaining <= 0 && index > 0 {
			res.termination = Timeout
			span.SetAttributes(attribute.String("termination", res.termination.String()))
			return res, nil
		}
		settings.Runtime = max(remaining, time.Nanosecond)
	}

	var (
		mu   sync.Mutex
		warm = s.start
	)

	objective := func(theta []float64) float64 {
		v := importanceFromTheta(theta)
		s.telemetry.recordEvaluation(ctx)

		mu.Lock()
		start := warm
		mu.Unlock()

		sol, err := s.inner.Solve(store, v, start)
		s.telemetry.recordInnerSolve(ctx, err != nil)

		mu.Lock()
		defer mu.Unlock()
		res.evaluations++

		if err != nil {
			s.logger.WarnContext(ctx, "importance candidate rejected",
				"restart", index,
				"fail_count", store.FailCount(),
				"max_failures", s.opts.MaxFailures,
				"error", err,
			)
			return math.Inf(1)
		}
		warm = sol.W

		mspe := store.PreMSPE(sol.W)
		if mspe < res.mspe {
			res.mspe = mspe
			res.v = v
			res.w = sol.W
			s.logger.DebugContext(ctx, "improved importance candidate",
				"restart", index,
				"mspe", mspe,
				"inner_loss", sol.Loss,
				"inner_iterations", sol.Iterations,
			)
		}
		return mspe
	}

	problem := optimize.Problem{
		Func: objective,
		Status: func() (optimize.Status, error) {
			select {
			case <-ctx.Done():
				return optimize.Failure, ctx.Err()
			default:
			}
			if store.FailCount() > int64(s.opts.MaxFailures) {
				return retryLimitStatus, nil
			}
			return optimize.NotTerminated, nil
		},
	}

	initial := s.initialImportance(index, k)
	theta := make([]float64, k)
	floats.ScaleTo(theta, float64(k), initial)

	result, err := optimize.Minimize(problem, theta, settings, &optimize.NelderMead{})

	if ctxErr := ctx.Err(); ctxErr != nil {
		span.RecordError(ctxErr)
		span.SetStatus(codes.Error, "context cancelled")
		return restartResult{}, fmt.Errorf("context cancelled during importance search: %w", ctxErr)
	}

	var status optimize.Status
	if result != nil {
		status = result.Status
	}
	res.termination = terminationFromStatus(status, err)

	s.logger.DebugContext(ctx, "restart finished",
		"restart", index,
		"mspe", res.mspe,
		"termination", res.termination.String(),
		"evaluations", res.evaluations,
	)
	span.SetAttributes(
		attribute.String("termination", res.termination.String()),
		attribute.Int("evaluations", res.evaluations),
		attribute.Float64("mspe", res.mspe),
	)
	return res, nil
}

// selectWinner returns the index of the finite result with the strictly
// lowest MSPE, or -1 when none is finite. A later result must beat the
// current best by more than tie to replace it.
func selectWinner(results []restartResult, tie float64) int {
	best := -1
	for i, r := range results {
		if math.IsInf(r.mspe, 0) || math.IsNaN(r.mspe) {
			continue
		}
		if best < 0 || r.mspe < results[best].mspe-tie {
			best = i
		}
	}
	return best
}

// initialImportance returns uniform importance for restart 0 and a seeded
// uniform Dirichlet draw for later restarts.
func (s *ImportanceSolver) initialImportance(index, k int) []float64 {
	if index == 0 {
		return uniform(k)
	}
	rng := rand.New(rand.NewSource(s.opts.Seed + int64(index)))
	v := make([]float64, k)
	for i := range v {
		v[i] = rng.ExpFloat64()
	}
	if !normalizeSimplex(v) {
		return uniform(k)
	}
	return v
}

// importanceFromTheta maps an unconstrained point onto the simplex as |theta| / sum|theta|.
// A zero or non-finite point yields an all-zero vector, which the inner solver rejects.
func importanceFromTheta(theta []float64) []float64 {
	v := make([]float64, len(theta))
	sum := 0.0
	for i, t := range theta {
		v[i] = math.Abs(t)
		sum += v[i]
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		for i := range v {
			v[i] = 0
		}
		return v
	}
	floats.Scale(1/sum, v)
	return v
}

// terminationFromStatus maps an optimizer status onto a Termination
func terminationFromStatus(status optimize.Status, err error) Termination {
	switch status {
	case retryLimitStatus:
		return RetryLimit
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit:
		return IterationLimit
	case optimize.RuntimeLimit:
		return Timeout
	case optimize.Failure:
		return RetryLimit
	}

	var funcErr optimize.ErrFunc
	if errors.As(err, &funcErr) {
		return RetryLimit
	}
	return Converged
}
