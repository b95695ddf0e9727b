package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/pilot"
)

// newPilotCmd creates the 'pilot' command, which fits the model to real
// pilot data and emits a suggested generating parameter set.
func newPilotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pilot",
		Short: "Estimate generating parameters from pilot data",
		Long: `Loads per-subject pilot CSVs, keeps correct trials at the configured
set size, fits the mixed-effects model to the reaction times, and
prints a suggested generating parameter set as YAML, ready to paste
into the params section of a study config.

Examples:
  powersim pilot --dir pilot-data/
  powersim pilot --dir pilot-data/ --set-size 6 --json`,
		RunE: runPilot,
	}

	cmd.Flags().String("dir", "", "Pilot data directory (overrides config)")
	cmd.Flags().Float64("set-size", 0, "Set size to filter trials on (overrides config)")
	cmd.Flags().Bool("ml", false, "Fit by maximum likelihood instead of REML")

	return cmd
}

func runPilot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	dir := cfg.Pilot.Dir
	if v, _ := cmd.Flags().GetString("dir"); v != "" {
		dir = v
	}
	if dir == "" {
		return fmt.Errorf("no pilot directory: set --dir or pilot.dir in the config")
	}
	setSize := cfg.Pilot.SetSize
	if cmd.Flags().Changed("set-size") {
		setSize, _ = cmd.Flags().GetFloat64("set-size")
	}

	trials, err := pilot.LoadTrials(dir, pilot.Options{SetSize: setSize})
	if err != nil {
		return err
	}

	var opts lmm.FitOptions
	if ml, _ := cmd.Flags().GetBool("ml"); ml {
		opts.Criterion = lmm.ML
	}

	set, res, err := pilot.Estimate(trials, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"params": set,
			"fit":    res,
		})
	}

	fmt.Printf("Fit %d pilot trials from %d subjects.\n", len(trials), set.NSubj)
	if res.Convergence != lmm.ConvergenceOK {
		fmt.Printf("Warning: %s\n", res.Convergence)
	}
	fmt.Println()
	fmt.Println("Suggested generating parameters:")
	out, err := yaml.Marshal(map[string]any{"params": set})
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}
