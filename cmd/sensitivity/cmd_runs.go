package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			d, ledger, err := openReplayLedger(cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			runs, err := ledger.ListRuns(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTATUS\tTRIALS\tSTARTED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
					r.RunID, r.Status, r.Recorded, r.Trials, r.StartedAt.Local().Format(time.DateTime), r.Error)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (max 100)")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Print a run and its trials as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			d, ledger, err := openReplayLedger(cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			run, err := ledger.GetRun(args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			trials, err := ledger.ListTrials(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]interface{}{"run": run, "trials": trials})
		},
	}

	del := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its trials from the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			d, ledger, err := openReplayLedger(cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			return ledger.DeleteRun(args[0])
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
