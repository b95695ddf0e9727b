// Package sim generates synthetic trial-level datasets from a two-level
// (subjects x items) hierarchical linear model. Given a parameter set and
// a seeded random source it produces one replication's worth of data:
// correlated subject random effects, the full subject x item cross join,
// and per-trial residual noise.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/powersim/internal/params"
)

// Subject is one simulated participant with its jointly drawn random
// intercept and random slope offsets.
type Subject struct {
	ID        int
	Intercept float64
	Slope     float64
}

// Trial is one simulated observation.
type Trial struct {
	Subject   int
	Condition string
	Code      float64
	Outcome   float64
}

// Dataset is the full synthetic dataset for one replication.
type Dataset struct {
	Params   params.Set
	Subjects []Subject
	Trials   []Trial
}

type item struct {
	condition string
	code      float64
}

// Simulate generates one dataset from the parameter set. The returned
// dataset has exactly set.Rows() trials. Draw order is fixed (subjects
// first, then residuals row by row), so results are reproducible for a
// given source. The source must not be shared with concurrent callers.
func Simulate(set params.Set, src rand.Source) (*Dataset, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	items := itemTemplate(set)
	subjects, err := drawSubjects(set, src)
	if err != nil {
		return nil, err
	}

	resid := distuv.Normal{Mu: 0, Sigma: set.Sigma, Src: src}

	trials := make([]Trial, 0, set.Rows())
	for _, subj := range subjects {
		for _, it := range items {
			eps := resid.Rand()
			outcome := set.Beta0 + subj.Intercept + (set.Beta1+subj.Slope)*it.code + eps
			trials = append(trials, Trial{
				Subject:   subj.ID,
				Condition: it.condition,
				Code:      it.code,
				Outcome:   outcome,
			})
		}
	}

	return &Dataset{Params: set, Subjects: subjects, Trials: trials}, nil
}

// itemTemplate builds the per-subject item rows: the reference level
// first, effect-coded -0.5, then the treatment level at +0.5.
func itemTemplate(set params.Set) []item {
	items := make([]item, 0, set.TotalTrials())
	for i := 0; i < set.NAbsent; i++ {
		items = append(items, item{params.ConditionAbsent, params.CodeAbsent})
	}
	for i := 0; i < set.NPresent; i++ {
		items = append(items, item{params.ConditionPresent, params.CodePresent})
	}
	return items
}

// drawSubjects samples NSubj correlated (intercept, slope) pairs from the
// bivariate normal with the set's covariance. The general case goes
// through distmv; on the singular boundary (a zero tau or |rho| = 1,
// where the covariance has no full-rank Cholesky) the draw falls back to
// the closed-form lower-triangular factor.
func drawSubjects(set params.Set, src rand.Source) ([]Subject, error) {
	subjects := make([]Subject, set.NSubj)

	normal, ok := distmv.NewNormal([]float64{0, 0}, set.Covariance(), src)
	if ok {
		buf := make([]float64, 2)
		for i := range subjects {
			normal.Rand(buf)
			subjects[i] = Subject{ID: i + 1, Intercept: buf[0], Slope: buf[1]}
		}
		return subjects, nil
	}

	if set.Tau0 < 0 || set.Tau1 < 0 || set.Rho < -1 || set.Rho > 1 {
		return nil, fmt.Errorf("%w: covariance rejected by sampler (tau0=%g tau1=%g rho=%g)",
			params.ErrInvalidParameters, set.Tau0, set.Tau1, set.Rho)
	}

	unit := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	l21 := set.Rho * set.Tau1
	l22 := set.Tau1 * math.Sqrt(1-set.Rho*set.Rho)
	for i := range subjects {
		z1, z2 := unit.Rand(), unit.Rand()
		subjects[i] = Subject{
			ID:        i + 1,
			Intercept: set.Tau0 * z1,
			Slope:     l21*z1 + l22*z2,
		}
	}
	return subjects, nil
}
