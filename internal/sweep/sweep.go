// Package sweep drives the sensitivity analysis: it expands a parameter
// grid, runs Simulate->Fit for every grid point and replication, appends
// every fit row to the results sink, and aggregates the rows into an
// empirical power curve.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/google/uuid"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/logging"
	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/results"
	"github.com/nvandessel/powersim/internal/sim"
)

// Options configure one sweep run.
type Options struct {
	// NReps is the number of replications per grid point.
	NReps int

	// Seed is the base seed; every replication derives its own
	// independent PCG stream from it.
	Seed uint64

	// SinkPath is the CSV results file. If the file already exists the
	// sweep is skipped entirely and the rows are read back instead;
	// delete the file to force recomputation.
	SinkPath string

	// Sink overrides SinkPath with a caller-provided backend (e.g. the
	// SQLite store). The existence check still applies to SinkPath when
	// both are set.
	Sink results.Sink

	// Fit tunes the per-replication model fit.
	Fit lmm.FitOptions

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
}

// Outcome is everything a sweep produced.
type Outcome struct {
	RunID        string
	Rows         []results.FitRow
	Summaries    []PowerSummary
	Skipped      bool
	Combinations int
	Replications int
	Warnings     int // replications with a non-ok convergence status
}

// Run executes the sweep over the grid.
func Run(grid params.Grid, opts Options) (*Outcome, error) {
	if opts.NReps <= 0 {
		return nil, fmt.Errorf("%w: n_reps must be positive, got %d", params.ErrInvalidParameters, opts.NReps)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	combos, err := grid.Combinations()
	if err != nil {
		return nil, err
	}
	alpha := grid.Base.Alpha
	if alpha == 0 {
		alpha = params.DefaultAlpha
	}
	varied := grid.VariedNames()

	// Coarse memoization: an existing results file means the whole sweep
	// was already computed.
	if opts.SinkPath != "" {
		if _, statErr := os.Stat(opts.SinkPath); statErr == nil {
			rows, readErr := results.ReadCSV(opts.SinkPath)
			if readErr != nil {
				return nil, fmt.Errorf("results file %s exists but is unreadable (delete it to recompute): %w",
					opts.SinkPath, readErr)
			}
			logger.Info("results file exists, skipping sweep", "path", opts.SinkPath, "rows", len(rows))
			opts.Decisions.SweepSkipped(opts.SinkPath, len(rows))
			return &Outcome{
				Rows:         rows,
				Summaries:    Aggregate(rows, varied, alpha),
				Skipped:      true,
				Combinations: len(combos),
			}, nil
		}
	}

	sink := opts.Sink
	var ownedSink *results.CSVSink
	if sink == nil && opts.SinkPath != "" {
		ownedSink, err = results.NewCSVSink(opts.SinkPath)
		if err != nil {
			return nil, err
		}
		sink = ownedSink
	}

	runID := uuid.NewString()
	logger.Info("starting sweep",
		"run_id", runID, "combinations", len(combos), "reps", opts.NReps, "varied", varied)

	out := &Outcome{RunID: runID, Combinations: len(combos)}
	for ci, combo := range combos {
		for rep := 0; rep < opts.NReps; rep++ {
			src := rand.NewPCG(opts.Seed, repStream(ci, rep))

			ds, simErr := sim.Simulate(combo.Set, src)
			if simErr != nil {
				closeOwned(ownedSink)
				return nil, fmt.Errorf("combination %d rep %d: %w", ci, rep, simErr)
			}

			rows, fitErr := lmm.FitAndRecord(ds, combo.Set, runID, sink, opts.Fit)
			if fitErr != nil {
				closeOwned(ownedSink)
				return nil, fmt.Errorf("combination %d rep %d: %w", ci, rep, fitErr)
			}

			out.Rows = append(out.Rows, rows...)
			out.Replications++
			if len(rows) > 0 && rows[0].Convergence != string(lmm.ConvergenceOK) {
				out.Warnings++
			}
			for _, row := range rows {
				if row.Term == lmm.TermCondition {
					opts.Decisions.Replication(runID, ci, rep, row.Term, row.PValue, row.Convergence)
					logger.Log(context.Background(), logging.LevelTrace, "replication fitted",
						"combo", ci, "rep", rep, "estimate", row.Estimate, "p_value", row.PValue,
						"convergence", row.Convergence)
				}
			}
		}
		logger.Debug("grid point complete", "combo", ci, "varied", combo.Varied)
	}

	if ownedSink != nil {
		if err := ownedSink.Close(); err != nil {
			return nil, err
		}
	}

	out.Summaries = Aggregate(out.Rows, varied, alpha)
	logger.Info("sweep complete",
		"run_id", runID, "replications", out.Replications, "rows", len(out.Rows), "warnings", out.Warnings)
	return out, nil
}

// repStream derives the second PCG seed word for a replication so each
// (combination, rep) pair gets an independent stream under one base seed.
func repStream(combo, rep int) uint64 {
	const golden = 0x9e3779b97f4a7c15
	return (uint64(combo)+1)*golden + uint64(rep) + 1
}

func closeOwned(s *results.CSVSink) {
	if s != nil {
		// Rows appended before the failure stay on disk for inspection.
		_ = s.Close()
	}
}
