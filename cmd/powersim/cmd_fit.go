package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/powersim/internal/lmm"
	"github.com/nvandessel/powersim/internal/sim"
)

// newFitCmd creates the 'fit' command, which fits the mixed-effects model
// to one dataset CSV and prints the fixed-effects table.
func newFitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <dataset.csv>",
		Short: "Fit the mixed-effects model to a dataset",
		Long: `Fits the random-intercept, random-slope model to a trial-level
dataset CSV (as written by 'powersim simulate') and prints the
fixed-effects table and variance components.

Examples:
  powersim fit dataset.csv
  powersim fit dataset.csv --ml --json`,
		Args: cobra.ExactArgs(1),
		RunE: runFit,
	}

	cmd.Flags().Bool("ml", false, "Fit by maximum likelihood instead of REML")
	cmd.Flags().Int("max-iterations", 0, "Optimizer iteration limit (0 = default)")

	return cmd
}

func runFit(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	ml, _ := cmd.Flags().GetBool("ml")
	maxIter, _ := cmd.Flags().GetInt("max-iterations")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := sim.ReadCSV(f)
	if err != nil {
		return err
	}

	opts := lmm.FitOptions{MaxIterations: maxIter}
	if ml {
		opts.Criterion = lmm.ML
	}

	res, err := lmm.Fit(ds, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(res)
	}
	printFit(res)
	return nil
}

func printFit(res *lmm.Result) {
	fmt.Printf("Linear mixed model fit by %s (%d observations, %d subjects)\n",
		res.Criterion, res.NObs, res.NSubjects)
	if res.Convergence != lmm.ConvergenceOK {
		fmt.Printf("Warning: %s", res.Convergence)
		if res.Message != "" {
			fmt.Printf(" (%s)", res.Message)
		}
		fmt.Println()
	}
	fmt.Println()

	fmt.Println("Fixed effects:")
	fmt.Printf("  %-14s %12s %10s %8s %10s\n", "term", "estimate", "std.err", "z", "p")
	for _, fe := range res.Fixed {
		fmt.Printf("  %-14s %12.4f %10.4f %8.3f %10.3g\n",
			fe.Term, fe.Estimate, fe.StdErr, fe.Statistic, fe.PValue)
	}

	fmt.Println()
	fmt.Println("Random effects:")
	fmt.Printf("  %-14s %12.4f\n", "tau0", res.VarComp.Tau0)
	fmt.Printf("  %-14s %12.4f\n", "tau1", res.VarComp.Tau1)
	fmt.Printf("  %-14s %12.4f\n", "rho", res.VarComp.Rho)
	fmt.Printf("  %-14s %12.4f\n", "sigma", res.VarComp.Sigma)
	fmt.Printf("\nLog-likelihood: %.4f\n", res.LogLik)
}
