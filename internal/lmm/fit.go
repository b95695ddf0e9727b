// Package lmm fits the linear mixed-effects model
//
//	outcome ~ condition + (condition | subject)
//
// to trial-level datasets: a fixed intercept and condition slope, with a
// correlated random intercept and random slope per subject. The variance
// components are estimated by profiled REML (or ML) over an unconstrained
// parameterization, the fixed effects by GLS at the optimum, and the
// fixed-effect tests are Wald z tests.
//
// Optimizer trouble is data, not an error: a fit that fails to converge
// or lands on the variance boundary is returned with a convergence
// status so a sweep can record it and move on.
package lmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/powersim/internal/sim"
)

// Criterion selects the estimation objective.
type Criterion string

const (
	// REML is the restricted maximum-likelihood criterion (default).
	REML Criterion = "reml"
	// ML is the full maximum-likelihood criterion.
	ML Criterion = "ml"
)

// ConvergenceStatus classifies how the optimizer finished.
type ConvergenceStatus string

const (
	// ConvergenceOK means the optimizer converged at an interior optimum.
	ConvergenceOK ConvergenceStatus = "ok"
	// ConvergenceFailed means the optimizer stopped without converging;
	// the reported estimates are the best point seen.
	ConvergenceFailed ConvergenceStatus = "no-convergence"
	// ConvergenceSingular means the fit converged on the boundary of the
	// variance parameter space (a near-zero tau or |rho| near 1).
	ConvergenceSingular ConvergenceStatus = "singular"
)

// Term names reported for the two fixed effects.
const (
	TermIntercept = "(Intercept)"
	TermCondition = "condition"
)

// ErrUnusableData indicates a dataset the model cannot structurally be
// fitted to, as opposed to one where the optimizer merely struggled.
var ErrUnusableData = errors.New("unusable dataset")

// FixedEffect is one row of the fixed-effects table.
type FixedEffect struct {
	Term      string
	Estimate  float64
	StdErr    float64
	Statistic float64
	PValue    float64
}

// VarianceComponents are the estimated random-effect parameters.
type VarianceComponents struct {
	Tau0  float64
	Tau1  float64
	Rho   float64
	Sigma float64
}

// Result is a fitted model.
type Result struct {
	Fixed       []FixedEffect
	VarComp     VarianceComponents
	Criterion   Criterion
	LogLik      float64
	Convergence ConvergenceStatus
	Message     string
	NObs        int
	NSubjects   int
}

// Term returns the fixed-effect row with the given name, or nil.
func (r *Result) Term(name string) *FixedEffect {
	for i := range r.Fixed {
		if r.Fixed[i].Term == name {
			return &r.Fixed[i]
		}
	}
	return nil
}

// FitOptions tune the fit. The zero value selects REML with default
// optimizer limits.
type FitOptions struct {
	Criterion     Criterion
	MaxIterations int
}

func (o FitOptions) withDefaults() FitOptions {
	if o.Criterion == "" {
		o.Criterion = REML
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 2000
	}
	return o
}

// Fit estimates the model on the dataset's trials.
func Fit(ds *sim.Dataset, opts FitOptions) (*Result, error) {
	opts = opts.withDefaults()

	if ds == nil || len(ds.Trials) == 0 {
		return nil, fmt.Errorf("%w: no trials", ErrUnusableData)
	}
	blocks := buildBlocks(ds.Trials)
	if len(blocks) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 subjects, got %d", ErrUnusableData, len(blocks))
	}
	var nPresent, nAbsent, nObs int
	for _, b := range blocks {
		nPresent += b.nPresent
		nAbsent += b.nAbsent
		nObs += b.n
	}
	if nPresent == 0 || nAbsent == 0 {
		return nil, fmt.Errorf("%w: condition has no variation", ErrUnusableData)
	}

	reml := opts.Criterion == REML
	objective := func(x []float64) float64 {
		p := profile(blocks, thetaFromSlice(x), reml)
		if !p.valid {
			return math.Inf(1)
		}
		return p.negLL
	}

	t0 := startTheta(blocks)
	x0 := []float64{t0.logSigma, t0.logTau0, t0.logTau1, t0.zRho}

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 100,
		},
	}

	res, optErr := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})

	x := x0
	if res != nil && len(res.X) == len(x0) {
		x = res.X
	}
	best := profile(blocks, thetaFromSlice(x), reml)
	if !best.valid {
		// Fall back to the starting point so the row still carries
		// numbers alongside the failure marker.
		best = profile(blocks, t0, reml)
		if !best.valid {
			return nil, fmt.Errorf("%w: likelihood undefined at starting values", ErrUnusableData)
		}
	}

	sigma, tau0, tau1, rho := thetaFromSlice(x).components()
	status, message := convergence(res, optErr, sigma, tau0, tau1, rho)

	fixed := waldTable(best)

	return &Result{
		Fixed:       fixed,
		VarComp:     VarianceComponents{Tau0: tau0, Tau1: tau1, Rho: rho, Sigma: sigma},
		Criterion:   opts.Criterion,
		LogLik:      -best.negLL,
		Convergence: status,
		Message:     message,
		NObs:        nObs,
		NSubjects:   len(blocks),
	}, nil
}

// convergence maps optimizer outcome plus boundary checks onto a status.
func convergence(res *optimize.Result, optErr error, sigma, tau0, tau1, rho float64) (ConvergenceStatus, string) {
	if optErr != nil {
		return ConvergenceFailed, fmt.Sprintf("optimizer error: %v", optErr)
	}
	switch res.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.RuntimeLimit:
		return ConvergenceFailed, fmt.Sprintf("optimizer stopped: %v", res.Status)
	case optimize.Failure:
		return ConvergenceFailed, "optimizer failure"
	}

	// Boundary fits mirror lme4's "boundary (singular) fit" warning.
	const tolScale = 1e-4
	if tau0 < tolScale*sigma || tau1 < tolScale*sigma || math.Abs(rho) > 0.999 {
		return ConvergenceSingular, "boundary (singular) fit: random-effect covariance is rank deficient"
	}
	return ConvergenceOK, ""
}

// waldTable builds the fixed-effects table from the GLS estimates and
// the inverse Fisher information at the optimum.
func waldTable(p profiled) []FixedEffect {
	det := p.info.det()
	varInt := p.info.d / det
	varSlp := p.info.a / det

	terms := []struct {
		name string
		est  float64
		se   float64
	}{
		{TermIntercept, p.beta[0], math.Sqrt(math.Max(0, varInt))},
		{TermCondition, p.beta[1], math.Sqrt(math.Max(0, varSlp))},
	}

	fixed := make([]FixedEffect, 0, len(terms))
	for _, t := range terms {
		z := math.Inf(1)
		pval := 0.0
		if t.se > 0 {
			z = t.est / t.se
			pval = 2 * distuv.UnitNormal.CDF(-math.Abs(z))
		}
		fixed = append(fixed, FixedEffect{
			Term:      t.name,
			Estimate:  t.est,
			StdErr:    t.se,
			Statistic: z,
			PValue:    pval,
		})
	}
	return fixed
}
