package lmm

import (
	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/results"
	"github.com/nvandessel/powersim/internal/sim"
)

// Rows converts a fitted model into result rows, one per fixed-effect
// term, with the generating parameter set merged in.
func Rows(res *Result, set params.Set, runID string) []results.FitRow {
	rows := make([]results.FitRow, 0, len(res.Fixed))
	for _, fe := range res.Fixed {
		rows = append(rows, results.NewFitRow(
			runID, fe.Term, fe.Estimate, fe.StdErr, fe.Statistic, fe.PValue,
			string(res.Convergence), set))
	}
	return rows
}

// FitAndRecord fits the model to one replication's dataset and, when a
// sink is given, appends the resulting rows. Convergence trouble is
// carried on the rows; only structural fit errors and sink failures are
// returned as errors.
func FitAndRecord(ds *sim.Dataset, set params.Set, runID string, sink results.Sink, opts FitOptions) ([]results.FitRow, error) {
	res, err := Fit(ds, opts)
	if err != nil {
		return nil, err
	}
	rows := Rows(res, set, runID)
	if sink != nil {
		if err := sink.Append(rows...); err != nil {
			return nil, err
		}
	}
	return rows, nil
}
