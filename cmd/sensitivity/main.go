// Command sensitivity runs Monte Carlo sensitivity analyses of building
// energy demand: it perturbs building records, runs the demand simulation
// once per trial and tabulates the total demand against the drawn inputs.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose, trace, quiet bool
	rootCmd := &cobra.Command{
		Use:   "sensitivity",
		Short: "Sensitivity analysis of building energy demand",
		Long: `sensitivity draws building parameters from declared distributions,
writes them into the scenario's building records, runs the demand
simulation for the measured buildings and records the total demand of
each trial in output/sensitivity/sensitivity_results.csv.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			w := logStreams(cmd.ErrOrStderr(), verbose, trace, quiet)
			monitoring.SetLogWriters(w)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Configuration file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().String("project", "", "Project root directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log per-trial parameters and metrics")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "Log per-phase timings and simulation output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")

	rootCmd.AddCommand(
		newRunCmd(),
		newReplayCmd(),
		newSampleCmd(),
		newRunsCmd(),
		newMigrateCmd(),
		newImportRecordsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// logStreams picks the writers for the ops, diag and trace streams.
func logStreams(w io.Writer, verbose, trace, quiet bool) monitoring.LogWriters {
	lw := monitoring.LogWriters{Ops: w}
	if quiet {
		return monitoring.LogWriters{}
	}
	if verbose || trace {
		lw.Diag = w
	}
	if trace {
		lw.Trace = w
	}
	return lw
}
