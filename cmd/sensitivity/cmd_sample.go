package main

import (
	"encoding/csv"
	"encoding/json"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/config"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

func newSampleCmd() *cobra.Command {
	var (
		trials  int
		seed    uint64
		params  []string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the parameter sets a seed produces without touching any records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("trials") {
				cfg.Trials = &trials
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = &seed
			}
			table, err := tableWithOverrides(cfg, params)
			if err != nil {
				return err
			}
			runSeed, err := cfg.ResolveSeed()
			if err != nil {
				return err
			}
			sampler, err := sensitivity.NewSampler(table)
			if err != nil {
				return err
			}
			src, err := sensitivity.NewRandomSource(sampler, runSeed, cfg.GetTrials())
			if err != nil {
				return err
			}

			if jsonOut {
				type row struct {
					Trial  int                      `json:"trial"`
					Seed   uint64                   `json:"seed"`
					Params sensitivity.ParameterSet `json:"params"`
				}
				rows := make([]row, 0, src.Len())
				for i := 0; i < src.Len(); i++ {
					tr, err := src.Trial(i)
					if err != nil {
						return err
					}
					rows = append(rows, row{Trial: tr.Index, Seed: tr.Seed, Params: tr.Params})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			names := table.Names()
			if err := w.Write(append([]string{sensitivity.TrialIDColumn, "seed"}, names...)); err != nil {
				return err
			}
			for i := 0; i < src.Len(); i++ {
				tr, err := src.Trial(i)
				if err != nil {
					return err
				}
				rec := []string{strconv.Itoa(tr.Index), strconv.FormatUint(tr.Seed, 10)}
				for _, n := range names {
					rec = append(rec, tr.Params[n].String())
				}
				if err := w.Write(rec); err != nil {
					return err
				}
			}
			w.Flush()
			return w.Error()
		},
	}
	cmd.Flags().IntVarP(&trials, "trials", "n", config.DefaultTrials, "Number of trials")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Run seed (random when unset)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter declaration name=kind:args[@group.attr], repeatable")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
