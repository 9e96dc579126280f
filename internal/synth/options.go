package synth

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"synthcontrol/internal/config"
	apperrors "synthcontrol/internal/errors"
)

// Default estimation parameters
const (
	DefaultRestarts               = 4
	DefaultSeed                   = 1
	DefaultMaxConcurrency         = 4
	DefaultMaxFailures            = 10
	DefaultOuterMaxIterations     = 500
	DefaultOuterMaxEvaluations    = 5000
	DefaultOuterTolerance         = 1e-10
	DefaultOuterConvergenceWindow = 50
	DefaultTieTolerance           = 1e-12
)

// validate checks struct tags; it is safe for concurrent use
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Options controls the importance search and the inner weight solver.
type Options struct {
	// Restarts is the number of independent outer searches; restart 0 starts at uniform importance
	Restarts int   `json:"restarts" yaml:"restarts" validate:"min=1,max=1024"`
	Seed     int64 `json:"seed" yaml:"seed"`
	// MaxConcurrency bounds the restarts running at once
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"min=1"`
	// MaxFailures is the number of inner failures a run tolerates across all
	// restarts. One more fails the estimation with RetryLimit.
	MaxFailures int `json:"max_failures" yaml:"max_failures" validate:"min=0"`

	OuterMaxIterations     int     `json:"outer_max_iterations" yaml:"outer_max_iterations" validate:"min=1"`
	OuterMaxEvaluations    int     `json:"outer_max_evaluations" yaml:"outer_max_evaluations" validate:"min=1"`
	OuterTolerance         float64 `json:"outer_tolerance" yaml:"outer_tolerance" validate:"gte=0"`
	OuterConvergenceWindow int     `json:"outer_convergence_window" yaml:"outer_convergence_window" validate:"min=1"`

	InnerMaxIterations int     `json:"inner_max_iterations" yaml:"inner_max_iterations" validate:"min=1"`
	InnerTolerance     float64 `json:"inner_tolerance" yaml:"inner_tolerance" validate:"gt=0"`

	// TieTolerance is the MSPE difference under which restarts count as tied
	TieTolerance float64 `json:"tie_tolerance" yaml:"tie_tolerance" validate:"gte=0"`
	// Standardize divides each covariate by its spread across units before matching
	Standardize bool `json:"standardize" yaml:"standardize"`
	// Timeout bounds the importance search; zero means no limit
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// DefaultOptions returns the default estimation parameters
func DefaultOptions() Options {
	return Options{
		Restarts:               DefaultRestarts,
		Seed:                   DefaultSeed,
		MaxConcurrency:         DefaultMaxConcurrency,
		MaxFailures:            DefaultMaxFailures,
		OuterMaxIterations:     DefaultOuterMaxIterations,
		OuterMaxEvaluations:    DefaultOuterMaxEvaluations,
		OuterTolerance:         DefaultOuterTolerance,
		OuterConvergenceWindow: DefaultOuterConvergenceWindow,
		InnerMaxIterations:     DefaultInnerMaxIterations,
		InnerTolerance:         DefaultInnerTolerance,
		TieTolerance:           DefaultTieTolerance,
		Standardize:            true,
	}
}

// OptionsFromConfig converts the estimation section of the process configuration
func OptionsFromConfig(cfg config.EstimationConfig) Options {
	return Options{
		Restarts:               cfg.Restarts,
		Seed:                   cfg.Seed,
		MaxConcurrency:         cfg.MaxConcurrency,
		MaxFailures:            cfg.MaxFailures,
		OuterMaxIterations:     cfg.OuterMaxIterations,
		OuterMaxEvaluations:    cfg.OuterMaxEvaluations,
		OuterTolerance:         cfg.OuterTolerance,
		OuterConvergenceWindow: cfg.OuterConvergenceWindow,
		InnerMaxIterations:     cfg.InnerMaxIterations,
		InnerTolerance:         cfg.InnerTolerance,
		TieTolerance:           cfg.TieTolerance,
		Standardize:            cfg.Standardize,
		Timeout:                cfg.Timeout,
	}
}

// Validate checks the options and returns a VALIDATION AppError describing every violation
func (o Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewAppValidationError("invalid options", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, formatFieldError(fe))
		fields = append(fields, fe.Field())
	}
	return apperrors.NewAppValidationError("invalid options: "+strings.Join(messages, "; "), err).
		WithContext("fields", fields)
}

// IsValid reports whether Validate passes
func (o Options) IsValid() bool {
	return o.Validate() == nil
}

// WeightSolver returns the inner solver configured by the options
func (o Options) WeightSolver() WeightSolver {
	return WeightSolver{
		MaxIterations: o.InnerMaxIterations,
		Tolerance:     o.InnerTolerance,
		Standardize:   o.Standardize,
	}
}

func formatFieldError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Option configures an Estimator
type Option func(*Estimator)

// WithLogger sets the logger; nil keeps slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for fit and restart spans
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Estimator) {
		e.tracer = tracer
	}
}

// WithMeter sets the meter used for solver metrics
func WithMeter(meter metric.Meter) Option {
	return func(e *Estimator) {
		e.meter = meter
	}
}

// WithInitialWeights warm-starts the inner solver from the given donor
// weights, keyed by control unit id. Missing units start at zero.
func WithInitialWeights(weights map[string]float64) Option {
	return func(e *Estimator) {
		e.initialWeights = copyWeights(weights)
	}
}

// WithFixedImportance skips the importance search and solves the donor
// weights for the given covariate importance, keyed by covariate name.
func WithFixedImportance(importance map[string]float64) Option {
	return func(e *Estimator) {
		e.fixedImportance = copyWeights(importance)
	}
}

// WithTreatmentEffect records a known treatment effect on every fitted store.
// A single value applies to all post-treatment periods.
func WithTreatmentEffect(effect []float64) Option {
	return func(e *Estimator) {
		e.treatmentEffect = append([]float64(nil), effect...)
	}
}

func copyWeights(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
