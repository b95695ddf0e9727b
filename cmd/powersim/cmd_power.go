package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/powersim/internal/config"
	"github.com/nvandessel/powersim/internal/results"
	"github.com/nvandessel/powersim/internal/sweep"
)

// newPowerCmd creates the 'power' command, which aggregates an existing
// results file into a power table without running any simulations.
func newPowerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Aggregate existing results into a power table",
		Long: `Reads persisted fit rows (from a previous sweep) and prints the
power table. No simulation is run.

Examples:
  powersim power
  powersim power --in results.csv --alpha 0.01`,
		RunE: runPower,
	}

	cmd.Flags().String("in", "", "Results file (default per the configured backend)")
	cmd.Flags().Float64("alpha", 0, "Significance threshold (overrides config)")

	return cmd
}

func runPower(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	alpha := cfg.Params.Alpha
	if cmd.Flags().Changed("alpha") {
		alpha, _ = cmd.Flags().GetFloat64("alpha")
	}

	rows, err := loadRows(cmd, cfg)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no results found; run 'powersim sweep' first")
	}

	// Prefer the configured grid; a results file from elsewhere still
	// aggregates on whichever parameters actually vary in it.
	varied := cfg.Grid().VariedNames()
	if len(varied) == 0 {
		varied = variedFromRows(rows)
	}

	summaries := sweep.Aggregate(rows, varied, alpha)
	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(summaries)
	}
	printPowerTable(summaries, varied)
	return nil
}

// loadRows reads fit rows from --in when given, otherwise from the
// configured backend's default location.
func loadRows(cmd *cobra.Command, cfg *config.StudyConfig) ([]results.FitRow, error) {
	if in, _ := cmd.Flags().GetString("in"); in != "" {
		return results.ReadCSV(in)
	}

	dir, err := powersimDir(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Results.Backend == config.BackendSQLite {
		store, err := results.OpenSQLiteStore(dir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Rows(cmd.Context())
	}

	path := cfg.Results.Path
	if path == "" {
		path = filepath.Join(dir, "results.csv")
	}
	return results.ReadCSV(path)
}
