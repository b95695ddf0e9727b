package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/powersim/internal/config"
	"github.com/nvandessel/powersim/internal/logging"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "powersim",
		Short: "Monte Carlo power analysis for mixed-effects designs",
		Long: `powersim estimates statistical power by simulation: it generates
synthetic trial-level datasets from a two-level hierarchical model,
refits the model to each, and aggregates the fraction of replications
reaching significance across a grid of design parameters.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default <root>/.powersim/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newFitCmd(),
		newSweepCmd(),
		newPowerCmd(),
		newPilotCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the study config for a command: an explicit --config
// file wins, otherwise the project config under --root (with defaults when
// no file exists). Environment overrides apply either way.
func loadConfig(cmd *cobra.Command) (*config.StudyConfig, error) {
	root, _ := cmd.Flags().GetString("root")
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.StudyConfig
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// powersimDir returns <root>/.powersim, creating it if needed.
func powersimDir(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("root")
	dir := filepath.Join(root, ".powersim")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

// newLoggers builds the operational logger and decision logger from the
// configured level. The decision logger is nil (and safe to call) unless
// the level is debug or trace.
func newLoggers(cmd *cobra.Command, cfg *config.StudyConfig) (*slog.Logger, *logging.DecisionLogger, error) {
	logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)

	dir, err := powersimDir(cmd)
	if err != nil {
		return nil, nil, err
	}
	decisions := logging.NewDecisionLogger(dir, cfg.Logging.Level)
	return logger, decisions, nil
}
