package synth

import (
	"fmt"
)

// Dimensions holds the scalar sizes of one estimation run.
type Dimensions struct {
	PeriodsAll int `json:"periods_all"`
	PeriodsPre int `json:"periods_pre"`
	Controls   int `json:"n_controls"`
	Covariates int `json:"n_covariates"`
}

// String renders the dimensional context attached to fatal errors.
func (d Dimensions) String() string {
	return fmt.Sprintf("periods_all=%d periods_pre=%d n_controls=%d n_covariates=%d",
		d.PeriodsAll, d.PeriodsPre, d.Controls, d.Covariates)
}

// IsValid checks the rectangular-panel invariants between the dimensions
func (d Dimensions) IsValid() bool {
	return d.PeriodsPre > 0 && d.PeriodsAll > d.PeriodsPre &&
		d.Controls > 0 && d.Covariates > 0
}

// Point is one value of a time-indexed series
type Point struct {
	Period float64 `json:"period"`
	Value  float64 `json:"value"`
}

// UnitWeight is a donor unit and its weight in the synthetic control
type UnitWeight struct {
	Unit   string  `json:"unit"`
	Weight float64 `json:"weight"`
}

// PredictorBalance compares one covariate across the treated unit,
// its synthetic control and the unweighted donor pool.
type PredictorBalance struct {
	Covariate  string  `json:"covariate"`
	Importance float64 `json:"importance"`
	Treated    float64 `json:"treated"`
	Synthetic  float64 `json:"synthetic"`
	DonorMean  float64 `json:"donor_mean"`
}

// Termination reports why the importance search stopped
type Termination int

const (
	// Converged means the MSPE improvement fell below tolerance
	Converged Termination = iota
	// IterationLimit means the iteration or evaluation budget ran out
	IterationLimit
	// RetryLimit means too many inner solves failed
	RetryLimit
	// Timeout means the run's time budget ran out
	Timeout
)

// String returns the string representation of the termination reason
func (t Termination) String() string {
	switch t {
	case Converged:
		return "converged"
	case IterationLimit:
		return "iteration_limit"
	case RetryLimit:
		return "retry_limit"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Numerical constants shared by the solvers
const (
	// SimplexTolerance bounds |sum(w) - 1| for a weight vector to count as convex
	SimplexTolerance = 1e-9

	// minScale is the smallest covariate standard deviation used for standardization
	minScale = 1e-12
)
