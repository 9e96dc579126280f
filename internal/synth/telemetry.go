package synth

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies the tracer and meter used by this package
const InstrumentationName = "synthcontrol/internal/synth"

// telemetry bundles the tracer and instruments used during a fit
type telemetry struct {
	tracer           trace.Tracer
	innerSolves      metric.Int64Counter
	innerFailures    metric.Int64Counter
	outerEvaluations metric.Int64Counter
	fitDuration      metric.Float64Histogram
}

// newTelemetry creates instruments on meter. An instrument that cannot be
// created falls back to a no-op one so estimation never depends on telemetry.
func newTelemetry(tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *telemetry {
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	fallback := noop.NewMeterProvider().Meter(InstrumentationName)

	t := &telemetry{tracer: tracer}
	var err error

	t.innerSolves, err = meter.Int64Counter("synth_inner_solves_total",
		metric.WithDescription("Inner weight solves attempted"),
		metric.WithUnit("{solve}"))
	if err != nil {
		logger.Warn("failed to create instrument", "instrument", "synth_inner_solves_total", "error", err)
		t.innerSolves, _ = fallback.Int64Counter("synth_inner_solves_total")
	}

	t.innerFailures, err = meter.Int64Counter("synth_inner_failures_total",
		metric.WithDescription("Inner weight solves that failed"),
		metric.WithUnit("{solve}"))
	if err != nil {
		logger.Warn("failed to create instrument", "instrument", "synth_inner_failures_total", "error", err)
		t.innerFailures, _ = fallback.Int64Counter("synth_inner_failures_total")
	}

	t.outerEvaluations, err = meter.Int64Counter("synth_outer_evaluations_total",
		metric.WithDescription("Importance candidates evaluated"),
		metric.WithUnit("{evaluation}"))
	if err != nil {
		logger.Warn("failed to create instrument", "instrument", "synth_outer_evaluations_total", "error", err)
		t.outerEvaluations, _ = fallback.Int64Counter("synth_outer_evaluations_total")
	}

	t.fitDuration, err = meter.Float64Histogram("synth_fit_duration_seconds",
		metric.WithDescription("Wall time of a complete fit"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create instrument", "instrument", "synth_fit_duration_seconds", "error", err)
		t.fitDuration, _ = fallback.Float64Histogram("synth_fit_duration_seconds")
	}

	return t
}

func (t *telemetry) recordInnerSolve(ctx context.Context, failed bool) {
	t.innerSolves.Add(ctx, 1)
	if failed {
		t.innerFailures.Add(ctx, 1)
	}
}

func (t *telemetry) recordEvaluation(ctx context.Context) {
	t.outerEvaluations.Add(ctx, 1)
}

func (t *telemetry) recordFit(ctx context.Context, elapsed time.Duration, termination string) {
	t.fitDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("termination", termination)))
}

// dimensionAttributes renders Dimensions as span attributes
func dimensionAttributes(d Dimensions) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("periods_all", d.PeriodsAll),
		attribute.Int("periods_pre", d.PeriodsPre),
		attribute.Int("n_controls", d.Controls),
		attribute.Int("n_covariates", d.Covariates),
	}
}
