package synth

import (
	"errors"
	"fmt"

	apperrors "synthcontrol/internal/errors"
)

// MalformedPanelError reports a violation of the rectangular-panel contract.
// It is fatal and never retried.
type MalformedPanelError struct {
	*apperrors.AppError
	Field string
	Value interface{}
	Dims  Dimensions
}

func newMalformedPanel(field, message string, value interface{}, dims Dimensions) *MalformedPanelError {
	app := apperrors.NewMalformedPanelError(message, nil).
		WithContext("field", field).
		WithContext("dimensions", dims)
	if value != nil {
		app.WithContext("value", value)
	}
	return &MalformedPanelError{AppError: app, Field: field, Value: value, Dims: dims}
}

// Error implements the error interface
func (e *MalformedPanelError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s (field=%s value=%v; %s)", e.AppError.Error(), e.Field, e.Value, e.Dims)
	}
	return fmt.Sprintf("%s (field=%s; %s)", e.AppError.Error(), e.Field, e.Dims)
}

// Unwrap exposes the underlying AppError
func (e *MalformedPanelError) Unwrap() error {
	return e.AppError
}

// WeightOptimizationError reports a failed inner solve for one importance matrix.
// The importance search recovers from it until the failure bound is exceeded.
type WeightOptimizationError struct {
	*apperrors.AppError
	Importance []float64
	Iterations int
	Dims       Dimensions
}

func newWeightOptimization(message string, cause error, v []float64, iterations int, dims Dimensions) *WeightOptimizationError {
	app := apperrors.NewWeightOptimizationError(message, cause).
		WithContext("iterations", iterations).
		WithContext("dimensions", dims)
	return &WeightOptimizationError{
		AppError:   app,
		Importance: append([]float64(nil), v...),
		Iterations: iterations,
		Dims:       dims,
	}
}

// Error implements the error interface
func (e *WeightOptimizationError) Error() string {
	return fmt.Sprintf("%s (iterations=%d; %s)", e.AppError.Error(), e.Iterations, e.Dims)
}

// Unwrap exposes the underlying AppError
func (e *WeightOptimizationError) Unwrap() error {
	return e.AppError
}

// EstimationFailedError reports that the importance search produced no feasible solution.
type EstimationFailedError struct {
	*apperrors.AppError
	Termination Termination
	FailCount   int64
	Dims        Dimensions
}

func newEstimationFailed(message string, cause error, reason Termination, failCount int64, dims Dimensions) *EstimationFailedError {
	app := apperrors.NewEstimationFailedError(message, cause).
		WithContext("termination", reason.String()).
		WithContext("fail_count", failCount).
		WithContext("dimensions", dims)
	return &EstimationFailedError{AppError: app, Termination: reason, FailCount: failCount, Dims: dims}
}

// Error implements the error interface
func (e *EstimationFailedError) Error() string {
	return fmt.Sprintf("%s (termination=%s fail_count=%d; %s)", e.AppError.Error(), e.Termination, e.FailCount, e.Dims)
}

// Unwrap exposes the underlying AppError
func (e *EstimationFailedError) Unwrap() error {
	return e.AppError
}

// asEstimationFailed finds an *EstimationFailedError in err's chain
func asEstimationFailed(err error) (*EstimationFailedError, bool) {
	var efe *EstimationFailedError
	if errors.As(err, &efe) {
		return efe, true
	}
	return nil, false
}
