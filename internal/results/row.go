// Package results provides the fit-result row schema and its append-only
// persistence backends: a log-structured CSV sink and a SQLite store.
// Rows are only ever appended; nothing here rewrites a row in place.
package results

import (
	"strconv"

	"github.com/nvandessel/powersim/internal/params"
)

// FitRow is one fixed-effect term from one replication's model fit,
// with the originating parameter set merged in so pooled result files
// can be grouped by any parameter later.
type FitRow struct {
	RunID       string  `json:"run_id"`
	Term        string  `json:"term"`
	Estimate    float64 `json:"estimate"`
	StdErr      float64 `json:"std_err"`
	Statistic   float64 `json:"statistic"`
	PValue      float64 `json:"p_value"`
	Convergence string  `json:"convergence"`

	NSubj    int     `json:"n_subj"`
	NPresent int     `json:"n_present"`
	NAbsent  int     `json:"n_absent"`
	Beta0    float64 `json:"beta0"`
	Beta1    float64 `json:"beta1"`
	Tau0     float64 `json:"tau0"`
	Tau1     float64 `json:"tau1"`
	Rho      float64 `json:"rho"`
	Sigma    float64 `json:"sigma"`
}

// Header is the CSV column order. The SQLite schema mirrors it.
var Header = []string{
	"run_id", "term", "estimate", "std_err", "statistic", "p_value", "convergence",
	"n_subj", "n_present", "n_absent", "beta0", "beta1", "tau0", "tau1", "rho", "sigma",
}

// NewFitRow merges a fitted term with its generating parameter set.
func NewFitRow(runID, term string, estimate, stdErr, statistic, pValue float64, convergence string, set params.Set) FitRow {
	return FitRow{
		RunID:       runID,
		Term:        term,
		Estimate:    estimate,
		StdErr:      stdErr,
		Statistic:   statistic,
		PValue:      pValue,
		Convergence: convergence,
		NSubj:       set.NSubj,
		NPresent:    set.NPresent,
		NAbsent:     set.NAbsent,
		Beta0:       set.Beta0,
		Beta1:       set.Beta1,
		Tau0:        set.Tau0,
		Tau1:        set.Tau1,
		Rho:         set.Rho,
		Sigma:       set.Sigma,
	}
}

// Param returns the row's value for a swept parameter name.
func (r FitRow) Param(name string) (float64, bool) {
	switch name {
	case "n_subj":
		return float64(r.NSubj), true
	case "n_present":
		return float64(r.NPresent), true
	case "n_absent":
		return float64(r.NAbsent), true
	case "beta0":
		return r.Beta0, true
	case "beta1":
		return r.Beta1, true
	case "tau0":
		return r.Tau0, true
	case "tau1":
		return r.Tau1, true
	case "rho":
		return r.Rho, true
	case "sigma":
		return r.Sigma, true
	default:
		return 0, false
	}
}

func (r FitRow) record() []string {
	return []string{
		r.RunID,
		r.Term,
		formatFloat(r.Estimate),
		formatFloat(r.StdErr),
		formatFloat(r.Statistic),
		formatFloat(r.PValue),
		r.Convergence,
		strconv.Itoa(r.NSubj),
		strconv.Itoa(r.NPresent),
		strconv.Itoa(r.NAbsent),
		formatFloat(r.Beta0),
		formatFloat(r.Beta1),
		formatFloat(r.Tau0),
		formatFloat(r.Tau1),
		formatFloat(r.Rho),
		formatFloat(r.Sigma),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Sink is anything fit rows can be appended to.
type Sink interface {
	Append(rows ...FitRow) error
	Close() error
}
