package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

func newReplayCmd() *cobra.Command {
	var (
		flags      runFlags
		runID      string
		trialsFile string
		checkSpace bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run trials from an earlier run or from a trials file",
		Long: `replay evaluates parameter sets chosen elsewhere instead of sampling.

With --run-id the trials recorded in the ledger for that run are replayed
with the run's own distribution table. With --trials-file each CSV row is
one trial whose columns name parameters; a previous results table can be
replayed directly, and --search-space checks its rows against the default
search space bounds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (runID == "") == (trialsFile == "") {
				return fmt.Errorf("exactly one of --run-id or --trials-file is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cfg)

			var space sensitivity.DistributionTable
			if checkSpace {
				space = sensitivity.DefaultSearchSpace()
			}

			var (
				table sensitivity.DistributionTable
				src   *sensitivity.ExternalSource
				seed  uint64
			)
			if runID != "" {
				d, ledger, err := openReplayLedger(cfg)
				if err != nil {
					return err
				}
				run, err := ledger.GetRun(runID)
				if err == nil && run == nil {
					err = fmt.Errorf("run %s not found", runID)
				}
				if err != nil {
					d.Close()
					return err
				}
				if err := json.Unmarshal(run.Params, &table); err != nil {
					d.Close()
					return fmt.Errorf("run %s parameters: %w", runID, err)
				}
				src, err = sensitivity.LedgerSource(ledger, runID, table)
				d.Close()
				if err != nil {
					return err
				}
				if len(cfg.Buildings) == 0 {
					cfg.Buildings = run.Buildings
				}
				seed = run.Seed
			} else {
				if table, err = cfg.DistributionTable(); err != nil {
					return err
				}
				data, err := os.ReadFile(trialsFile)
				if err != nil {
					return fmt.Errorf("%w: %w", sensitivity.ErrConfig, err)
				}
				sets, err := sensitivity.ReadTrialsCSVBytes(data, table)
				if err != nil {
					return err
				}
				if src, err = sensitivity.NewExternalSource(table, space, sets); err != nil {
					return err
				}
			}
			return execute(cmd, cfg, &flags, table, seed, src)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&runID, "run-id", "", "Replay the trials of this ledger run")
	cmd.Flags().StringVar(&trialsFile, "trials-file", "", "CSV file with one trial per row")
	cmd.Flags().BoolVar(&checkSpace, "search-space", false, "Reject trials outside the default search space")
	return cmd
}
