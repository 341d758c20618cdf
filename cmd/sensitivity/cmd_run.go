package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/config"
	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/metrics"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
	"github.com/banshee-data/demand.sensitivity/internal/publish"
	"github.com/banshee-data/demand.sensitivity/internal/report"
	"github.com/banshee-data/demand.sensitivity/internal/runstore"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
	"github.com/banshee-data/demand.sensitivity/internal/telemetry"
	"github.com/banshee-data/demand.sensitivity/internal/version"
)

// runFlags are shared by run and replay.
type runFlags struct {
	buildings   []string
	commands    []string
	partial     bool
	perBuilding bool
	charts      bool
	noLedger    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.buildings, "buildings", "b", nil, "Measured buildings (overrides config)")
	cmd.Flags().StringArrayVar(&f.commands, "command", nil, "Simulation command, repeatable, run through sh -c; {buildings} expands to the subset")
	cmd.Flags().BoolVar(&f.partial, "partial", false, "Write completed trials to sensitivity_results.partial.csv when a run fails")
	cmd.Flags().BoolVar(&f.perBuilding, "per-building", false, "Add one metric column per measured building")
	cmd.Flags().BoolVar(&f.charts, "charts", false, "Render charts.html and scatter plots next to the results")
	cmd.Flags().BoolVar(&f.noLedger, "no-ledger", false, "Do not record the run in the sqlite ledger")
}

// apply folds the flags into cfg.
func (f *runFlags) apply(cfg *config.SensitivityConfig) {
	if len(f.buildings) > 0 {
		cfg.Buildings = f.buildings
	}
	for _, c := range f.commands {
		cfg.Commands = append(cfg.Commands, []string{"sh", "-c", c})
	}
	if f.partial {
		cfg.PartialOnFailure = &f.partial
	}
	if f.perBuilding {
		cfg.PerBuilding = &f.perBuilding
	}
	if f.charts {
		cfg.Charts = &f.charts
	}
}

func newRunCmd() *cobra.Command {
	var (
		flags  runFlags
		trials int
		seed   uint64
		params []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sensitivity analysis with freshly sampled trials",
		Example: `  sensitivity run --project ./district -b B1001,B1002 -n 50 --seed 42 \
    --command 'cea schedule-maker --buildings {buildings}' --command 'cea demand --buildings {buildings}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags.apply(cfg)
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
			monitoring.Opsf("seed %d", runSeed)
			return execute(cmd, cfg, &flags, table, runSeed, src)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&trials, "trials", "n", config.DefaultTrials, "Number of trials")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Run seed (random when unset)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter declaration name=kind:args[@group.attr], repeatable")
	return cmd
}

// execute wires the pipeline for cfg and runs every trial of src.
func execute(cmd *cobra.Command, cfg *config.SensitivityConfig, flags *runFlags, table sensitivity.DistributionTable, seed uint64, src sensitivity.TrialSource) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, cfg.GetOTelEndpoint(), version.Version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			monitoring.Opsf("warning: flushing traces: %v", err)
		}
	}()

	if len(cfg.Buildings) == 0 {
		return fmt.Errorf("%w: no measured buildings (set buildings in the config, SENSITIVITY_SUBSET or --buildings)", sensitivity.ErrConfig)
	}
	if len(cfg.Commands) == 0 {
		return fmt.Errorf("%w: no simulation command (set commands in the config or --command)", sensitivity.ErrConfig)
	}

	var ledger sensitivity.Ledger
	ledgerDB, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledgerDB.Close()
	if !flags.noLedger {
		ledger = runstore.NewStore(ledgerDB.DB)
	}

	store, closer, err := openRecords(ctx, cfg, ledgerDB)
	if err != nil {
		return err
	}
	defer closer.Close()

	ow, err := sensitivity.NewOverwriter(store, table)
	if err != nil {
		return err
	}
	fsys := fsutil.OSFileSystem{}
	extractor := sensitivity.NewCSVExtractor(fsys)
	extractor.MetricColumn = cfg.GetMetricColumn()

	recorder := metrics.NewRecorder(prometheus.Labels{"project": cfg.GetProject()})
	runner, err := sensitivity.NewRunner(sensitivity.Config{
		Table:      table,
		Overwriter: ow,
		Invoker: &sensitivity.CommandInvoker{
			Commands:   cfg.Commands,
			Dir:        cfg.GetProject(),
			ReportPath: cfg.GetReportPath(),
			Timeout:    cfg.GetTimeout(),
			FS:         fsys,
		},
		Extractor: extractor,
		Buildings: cfg.Buildings,
		OutputDir: cfg.GetOutputDir(),
		TableOptions: sensitivity.TableOptions{
			PerBuilding: cfg.GetPerBuilding(),
			MetricName:  cfg.GetMetricColumn(),
		},
		PartialOnFailure: cfg.GetPartialOnFailure(),
		Seed:             seed,
		ToolVersion:      version.String(),
		FS:               fsys,
		Ledger:           ledger,
		Observer:         recorder,
	})
	if err != nil {
		return err
	}

	res, runErr := runner.Run(ctx, src)

	if path := cfg.GetMetricsTextfile(); path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			monitoring.Opsf("warning: metrics textfile: %v", err)
		}
	}
	if res == nil {
		return runErr
	}

	files := []string{res.OutputPath}
	if runErr == nil && cfg.GetCharts() {
		files = append(files, renderReports(fsys, cfg.GetOutputDir(), res)...)
	}
	if runErr == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.OutputPath)
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d trials, %s mean=%g stddev=%g min=%g max=%g\n",
			res.RunID, res.Summary.Trials, sensitivity.TotalColumn,
			res.Summary.Mean, res.Summary.Stddev, res.Summary.Min, res.Summary.Max)
	}
	if bucket, prefix, region, endpoint := cfg.S3(); bucket != "" {
		if err := publishFiles(ctx, bucket, prefix, region, endpoint, res.RunID, files); err != nil {
			if runErr == nil {
				return err
			}
			monitoring.Opsf("warning: %v", err)
		}
	}
	return runErr
}

func renderReports(fsys fsutil.FileSystem, dir string, res *sensitivity.Result) []string {
	var out []string
	if path, err := report.WriteCharts(fsys, dir, res.Table, res.RunID); err != nil {
		monitoring.Opsf("warning: charts: %v", err)
	} else {
		out = append(out, path)
	}
	plots, err := report.WritePlots(fsys, dir, res.Table)
	if err != nil {
		monitoring.Opsf("warning: plots: %v", err)
	}
	return append(out, plots...)
}

func publishFiles(ctx context.Context, bucket, prefix, region, endpoint, runID string, files []string) error {
	p, err := publish.New(ctx, publish.Config{
		Bucket:   bucket,
		Prefix:   prefix,
		Region:   region,
		Endpoint: endpoint,
	}, fsutil.OSFileSystem{})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	uris, err := p.Publish(ctx, runID, files...)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	monitoring.Diagf("published %d files to s3://%s", len(uris), bucket)
	return nil
}
