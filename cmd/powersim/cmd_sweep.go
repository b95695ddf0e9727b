package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/powersim/internal/config"
	"github.com/nvandessel/powersim/internal/params"
	"github.com/nvandessel/powersim/internal/results"
	"github.com/nvandessel/powersim/internal/sweep"
)

// newSweepCmd creates the 'sweep' command, which runs the full
// sensitivity analysis from the study config.
func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the sensitivity sweep",
		Long: `Expands the configured parameter grid, simulates and fits every
replication, persists the fit rows, and prints the power table.

An existing results file short-circuits the whole sweep and is read
back instead; pass --force to delete it and recompute.

Examples:
  powersim sweep
  powersim sweep --reps 500 --seed 7
  powersim sweep --force --json`,
		RunE: runSweep,
	}

	cmd.Flags().Int("reps", 0, "Replications per grid point (overrides config)")
	cmd.Flags().Uint64("seed", 0, "Base seed (overrides config)")
	cmd.Flags().String("out", "", "Results file (default <root>/.powersim/results.csv)")
	cmd.Flags().Bool("force", false, "Delete an existing results file and recompute")

	return cmd
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")
	force, _ := cmd.Flags().GetBool("force")

	if v, _ := cmd.Flags().GetInt("reps"); v > 0 {
		cfg.Sweep.NReps = v
	}
	if cmd.Flags().Changed("seed") {
		cfg.Sweep.Seed, _ = cmd.Flags().GetUint64("seed")
	}

	dir, err := powersimDir(cmd)
	if err != nil {
		return err
	}
	logger, decisions, err := newLoggers(cmd, cfg)
	if err != nil {
		return err
	}
	defer decisions.Close()

	opts := sweep.Options{
		NReps:     cfg.Sweep.NReps,
		Seed:      cfg.Sweep.Seed,
		Logger:    logger,
		Decisions: decisions,
	}

	switch cfg.Results.Backend {
	case config.BackendSQLite:
		store, err := results.OpenSQLiteStore(dir)
		if err != nil {
			return err
		}
		defer store.Close()
		if force {
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
		}
		// Same coarse memoization as the CSV backend: a non-empty store
		// means the sweep was already computed.
		n, err := store.Count(cmd.Context())
		if err != nil {
			return err
		}
		if n > 0 {
			rows, err := store.Rows(cmd.Context())
			if err != nil {
				return err
			}
			varied := cfg.Grid().VariedNames()
			summaries := sweep.Aggregate(rows, varied, cfg.Params.Alpha)
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(summaries)
			}
			fmt.Printf("Results store has %d rows; aggregated without simulating (use --force to recompute).\n\n", n)
			printPowerTable(summaries, varied)
			return nil
		}
		opts.Sink = store
	default:
		path := cfg.Results.Path
		if path == "" {
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				path = out
			} else {
				path = filepath.Join(dir, "results.csv")
			}
		}
		if force {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
		opts.SinkPath = path
	}

	out, err := sweep.Run(cfg.Grid(), opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(out.Summaries)
	}
	if out.Skipped {
		fmt.Printf("Results file exists; aggregated %d existing rows (use --force to recompute).\n\n", len(out.Rows))
	} else {
		fmt.Printf("Ran %d replications across %d grid points (%d convergence warnings).\n\n",
			out.Replications, out.Combinations, out.Warnings)
	}
	printPowerTable(out.Summaries, cfg.Grid().VariedNames())
	return nil
}

// printPowerTable prints one row per (grid point, term) group.
func printPowerTable(summaries []sweep.PowerSummary, varied []string) {
	if len(summaries) == 0 {
		fmt.Println("No results.")
		return
	}

	header := append(append([]string{}, varied...), "term", "reps", "estimate", "std.err", "power", "warnings")
	fmt.Println(strings.Join(header, "\t"))
	for _, s := range summaries {
		row := make([]string, 0, len(header))
		for _, name := range varied {
			row = append(row, strconv.FormatFloat(s.Varied[name], 'g', -1, 64))
		}
		row = append(row,
			s.Term,
			strconv.Itoa(s.Replications),
			fmt.Sprintf("%.4f", s.MeanEstimate),
			fmt.Sprintf("%.4f", s.MeanStdErr),
			fmt.Sprintf("%.3f", s.Power),
			strconv.Itoa(s.Warnings),
		)
		fmt.Println(strings.Join(row, "\t"))
	}
}

// variedFromRows recovers the varied parameter names from persisted rows,
// for aggregating a results file without the config that produced it.
func variedFromRows(rows []results.FitRow) []string {
	if len(rows) == 0 {
		return nil
	}
	distinct := map[string]map[float64]bool{}
	for _, row := range rows {
		for _, name := range params.Names() {
			v, ok := row.Param(name)
			if !ok {
				continue
			}
			if distinct[name] == nil {
				distinct[name] = map[float64]bool{}
			}
			distinct[name][v] = true
		}
	}
	var varied []string
	for name, values := range distinct {
		if len(values) > 1 {
			varied = append(varied, name)
		}
	}
	sort.Strings(varied)
	return varied
}
