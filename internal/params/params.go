// Package params defines the generating parameters for a simulated
// two-level (subjects x items) experimental design and the sweep grids
// built from them.
package params

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidParameters indicates a parameter set that cannot describe a
// valid data-generating process. It is returned (wrapped) before any
// simulation or fitting work happens.
var ErrInvalidParameters = errors.New("invalid parameters")

// Condition labels for the two-level categorical predictor.
const (
	ConditionAbsent  = "absent"
	ConditionPresent = "present"
)

// Effect codes for the two condition levels. The reference level is
// centered at -0.5 so the intercept is the grand mean across conditions.
const (
	CodeAbsent  = -0.5
	CodePresent = +0.5
)

// DefaultAlpha is the significance threshold used when none is configured.
const DefaultAlpha = 0.05

// Set is an immutable parameter set for one simulation run.
type Set struct {
	// NSubj is the number of simulated subjects.
	NSubj int `yaml:"n_subj" json:"n_subj"`

	// NPresent and NAbsent are the trial counts per condition level.
	NPresent int `yaml:"n_present" json:"n_present"`
	NAbsent  int `yaml:"n_absent" json:"n_absent"`

	// Beta0 and Beta1 are the fixed-effect intercept and condition slope.
	Beta0 float64 `yaml:"beta0" json:"beta0"`
	Beta1 float64 `yaml:"beta1" json:"beta1"`

	// Tau0 and Tau1 are the random intercept and random slope standard
	// deviations across subjects.
	Tau0 float64 `yaml:"tau0" json:"tau0"`
	Tau1 float64 `yaml:"tau1" json:"tau1"`

	// Rho is the correlation between a subject's random intercept and
	// random slope, in [-1, 1].
	Rho float64 `yaml:"rho" json:"rho"`

	// Sigma is the residual standard deviation.
	Sigma float64 `yaml:"sigma" json:"sigma"`

	// Alpha is the significance threshold used for power aggregation.
	Alpha float64 `yaml:"alpha" json:"alpha"`
}

// Default returns the parameter set documented in the power tutorial: a
// reliably significant 30 ms condition effect on a 650 ms baseline.
func Default() Set {
	return Set{
		NSubj:    10,
		NPresent: 200,
		NAbsent:  200,
		Beta0:    650,
		Beta1:    30,
		Tau0:     80,
		Tau1:     15,
		Rho:      0.35,
		Sigma:    175,
		Alpha:    DefaultAlpha,
	}
}

// TotalTrials returns the number of item rows per subject.
func (s Set) TotalTrials() int {
	return s.NPresent + s.NAbsent
}

// Rows returns the total simulated dataset size for this set.
func (s Set) Rows() int {
	return s.NSubj * s.TotalTrials()
}

// Covariance returns the 2x2 random-effect covariance matrix
// [[tau0^2, rho*tau0*tau1], [rho*tau0*tau1, tau1^2]].
func (s Set) Covariance() *mat.SymDense {
	off := s.Rho * s.Tau0 * s.Tau1
	return mat.NewSymDense(2, []float64{
		s.Tau0 * s.Tau0, off,
		off, s.Tau1 * s.Tau1,
	})
}

// Validate checks the set against the constraints of the generating
// process. Errors wrap ErrInvalidParameters.
func (s Set) Validate() error {
	if s.NSubj <= 0 {
		return fmt.Errorf("%w: n_subj must be positive, got %d", ErrInvalidParameters, s.NSubj)
	}
	if s.NPresent <= 0 || s.NAbsent <= 0 {
		return fmt.Errorf("%w: trial counts must be positive, got n_present=%d n_absent=%d",
			ErrInvalidParameters, s.NPresent, s.NAbsent)
	}
	if s.Tau0 < 0 || s.Tau1 < 0 {
		return fmt.Errorf("%w: random-effect standard deviations must be non-negative, got tau0=%g tau1=%g",
			ErrInvalidParameters, s.Tau0, s.Tau1)
	}
	if s.Rho < -1 || s.Rho > 1 {
		return fmt.Errorf("%w: rho must be in [-1, 1], got %g", ErrInvalidParameters, s.Rho)
	}
	if s.Sigma <= 0 {
		return fmt.Errorf("%w: sigma must be positive, got %g", ErrInvalidParameters, s.Sigma)
	}
	if s.Alpha < 0 || s.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0, 1], got %g", ErrInvalidParameters, s.Alpha)
	}
	if !psd(s.Covariance()) {
		return fmt.Errorf("%w: random-effect covariance is not positive semi-definite (tau0=%g tau1=%g rho=%g)",
			ErrInvalidParameters, s.Tau0, s.Tau1, s.Rho)
	}
	return nil
}

// psd reports whether the 2x2 symmetric matrix is positive semi-definite.
// Cholesky handles the strictly positive-definite case; the rank-deficient
// boundary (a zero tau, or |rho| = 1) is accepted via the determinant.
func psd(c *mat.SymDense) bool {
	var chol mat.Cholesky
	if chol.Factorize(c) {
		return true
	}
	a, b, d := c.At(0, 0), c.At(0, 1), c.At(1, 1)
	const eps = 1e-12
	return a >= -eps && d >= -eps && a*d-b*b >= -eps
}

// Param returns the value of the named parameter. Count parameters are
// returned as floats so sweep grids can treat every dimension uniformly.
func (s Set) Param(name string) (float64, bool) {
	switch name {
	case "n_subj":
		return float64(s.NSubj), true
	case "n_present":
		return float64(s.NPresent), true
	case "n_absent":
		return float64(s.NAbsent), true
	case "beta0":
		return s.Beta0, true
	case "beta1":
		return s.Beta1, true
	case "tau0":
		return s.Tau0, true
	case "tau1":
		return s.Tau1, true
	case "rho":
		return s.Rho, true
	case "sigma":
		return s.Sigma, true
	default:
		return 0, false
	}
}

// WithParam returns a copy of the set with the named parameter replaced.
// Count parameters are truncated to integers.
func (s Set) WithParam(name string, value float64) (Set, error) {
	switch name {
	case "n_subj":
		s.NSubj = int(value)
	case "n_present":
		s.NPresent = int(value)
	case "n_absent":
		s.NAbsent = int(value)
	case "beta0":
		s.Beta0 = value
	case "beta1":
		s.Beta1 = value
	case "tau0":
		s.Tau0 = value
	case "tau1":
		s.Tau1 = value
	case "rho":
		s.Rho = value
	case "sigma":
		s.Sigma = value
	default:
		return s, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParameters, name)
	}
	return s, nil
}

// Names lists the sweepable parameter names in canonical order.
func Names() []string {
	return []string{"n_subj", "n_present", "n_absent", "beta0", "beta1", "tau0", "tau1", "rho", "sigma"}
}
