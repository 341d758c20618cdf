package sensitivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
	"github.com/banshee-data/demand.sensitivity/internal/runstore"
	"github.com/banshee-data/demand.sensitivity/internal/timeutil"
)

const tracerName = "github.com/banshee-data/demand.sensitivity/internal/sensitivity"

// Status is the lifecycle state of a Runner.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// State is a snapshot of run progress.
type State struct {
	Status          Status     `json:"status"`
	RunID           string     `json:"run_id,omitempty"`
	TotalTrials     int        `json:"total_trials"`
	CompletedTrials int        `json:"completed_trials"`
	CurrentTrial    int        `json:"current_trial"`
	CurrentPhase    Phase      `json:"current_phase,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	OutputPath      string     `json:"output_path,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// Ledger persists runs and trials as they happen. *runstore.Store
// implements it.
type Ledger interface {
	InsertRun(rec runstore.RunRecord) error
	InsertTrial(rec runstore.TrialRecord) error
	FinishRun(runID, status, outputPath string, summary json.RawMessage, errMsg string, completedAt time.Time) error
}

// Observer receives per-phase timings and trial outcomes.
type Observer interface {
	PhaseDone(phase Phase, d time.Duration)
	TrialRecorded(total float64)
	TrialFailed(phase Phase)
}

// Config wires a Runner.
type Config struct {
	Table      DistributionTable
	Overwriter *Overwriter
	Invoker    Invoker
	Extractor  Extractor
	Buildings  []string
	OutputDir  string

	TableOptions TableOptions
	// PartialOnFailure writes the trials completed before a failure to
	// PartialResultsFile.
	PartialOnFailure bool

	// Seed is recorded in the ledger only; sources carry their own seeds.
	Seed        uint64
	ToolVersion string

	FS       fsutil.FileSystem
	Clock    timeutil.Clock
	Ledger   Ledger
	Observer Observer
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	Table      *ResultTable
	OutputPath string
	Summary    Summary
}

// Runner executes trials strictly one after another and writes the result
// table once all of them are recorded.
type Runner struct {
	cfg    Config
	tracer trace.Tracer

	mu    sync.RWMutex
	state State
}

// NewRunner validates cfg. Configuration problems wrap ErrConfig.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.Table.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.Overwriter == nil:
		return nil, configErrorf("runner needs an overwriter")
	case cfg.Invoker == nil:
		return nil, configErrorf("runner needs an invoker")
	case cfg.Extractor == nil:
		return nil, configErrorf("runner needs an extractor")
	case len(cfg.Buildings) == 0:
		return nil, configErrorf("building subset is empty")
	case cfg.OutputDir == "":
		return nil, configErrorf("output directory is not set")
	}
	seen := map[string]bool{}
	for _, b := range cfg.Buildings {
		if strings.TrimSpace(b) == "" {
			return nil, configErrorf("building subset contains an empty name")
		}
		if seen[b] {
			return nil, configErrorf("building %s listed twice", b)
		}
		seen[b] = true
	}
	cfg.Table = cfg.Table.Clone()
	cfg.Buildings = slices.Clone(cfg.Buildings)
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Runner{
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		state:  State{Status: StatusIdle},
	}, nil
}

// State returns a copy of the current progress.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

func (r *Runner) update(fn func(*State)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

// Run executes every trial of src. On failure the returned error is a
// *TrialError (or a configuration error raised before trial 0) and no
// results file is written unless PartialOnFailure is set.
func (r *Runner) Run(ctx context.Context, src TrialSource) (*Result, error) {
	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return nil, errors.New("run already in progress")
	}
	started := r.cfg.Clock.Now()
	r.state = State{Status: StatusRunning, StartedAt: &started}
	r.mu.Unlock()

	res, err := r.run(ctx, src, started)

	completed := r.cfg.Clock.Now()
	r.update(func(s *State) {
		s.CompletedAt = &completed
		s.CurrentPhase = ""
		if err != nil {
			s.Status = StatusFailed
			s.Error = err.Error()
			return
		}
		s.Status = StatusComplete
		s.OutputPath = res.OutputPath
	})
	return res, err
}

func (r *Runner) run(ctx context.Context, src TrialSource, started time.Time) (*Result, error) {
	if src == nil || src.Len() < 1 {
		return nil, configErrorf("trial source is empty")
	}
	total := src.Len()
	if err := r.cfg.Overwriter.Preflight(ctx, r.cfg.Buildings); err != nil {
		return nil, err
	}

	runID := runstore.NewRunID()
	r.update(func(s *State) {
		s.RunID = runID
		s.TotalTrials = total
	})

	ctx, span := r.tracer.Start(ctx, "sensitivity.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.trials", total),
		attribute.Int("run.buildings", len(r.cfg.Buildings)),
	))
	defer span.End()

	r.ledgerStart(runID, total, started)
	monitoring.Opsf("run %s started: %d trials, %d buildings, %d parameters",
		runID, total, len(r.cfg.Buildings), len(r.cfg.Table))

	table := NewResultTable(r.cfg.Table.Names(), r.cfg.Buildings, r.cfg.TableOptions)
	for i := 0; i < total; i++ {
		if err := r.runTrial(ctx, runID, src, table, i); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return r.fail(runID, table, err)
		}
	}

	path, err := WriteTable(r.cfg.FS, r.cfg.OutputDir, ResultsFile, table)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRecordIO, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.ledgerFinish(runID, runstore.StatusFailed, "", nil, err)
		return nil, err
	}

	summary := Summarize(table.Totals())
	r.ledgerFinish(runID, runstore.StatusComplete, path, &summary, nil)
	monitoring.Opsf("run %s complete: wrote %s (%d rows); %s mean=%g stddev=%g min=%g max=%g",
		runID, path, table.Len(), TotalColumn, summary.Mean, summary.Stddev, summary.Min, summary.Max)

	return &Result{RunID: runID, Table: table, OutputPath: path, Summary: summary}, nil
}

func (r *Runner) runTrial(ctx context.Context, runID string, src TrialSource, table *ResultTable, i int) error {
	ctx, span := r.tracer.Start(ctx, "sensitivity.trial", trace.WithAttributes(attribute.Int("trial.index", i)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return &TrialError{Index: i, Phase: PhaseSample, Err: err}
	}
	trialStart := r.cfg.Clock.Now()
	r.update(func(s *State) { s.CurrentTrial = i })

	var (
		trial  Trial
		report ReportHandle
		metric map[string]float64
	)
	err := r.phase(ctx, i, PhaseSample, func(ctx context.Context) error {
		var err error
		if trial, err = src.Trial(i); err != nil {
			return wrapSentinel(err, ErrConfig)
		}
		if trial.Index != i {
			return configErrorf("source returned trial %d for index %d", trial.Index, i)
		}
		return r.cfg.Table.CheckSet(trial.Params)
	})
	if err != nil {
		return err
	}
	monitoring.Diagf("trial %d params: %s", i, formatParams(r.cfg.Table, trial.Params))

	if err := r.phase(ctx, i, PhaseOverwrite, func(ctx context.Context) error {
		return wrapSentinel(r.cfg.Overwriter.Apply(ctx, trial.Params), ErrRecordIO)
	}); err != nil {
		return err
	}

	if err := r.phase(ctx, i, PhaseInvoke, func(ctx context.Context) error {
		var err error
		report, err = r.cfg.Invoker.Invoke(ctx, slices.Clone(r.cfg.Buildings))
		return wrapSentinel(err, ErrInvoke)
	}); err != nil {
		return err
	}

	if err := r.phase(ctx, i, PhaseExtract, func(ctx context.Context) error {
		var err error
		if metric, err = r.cfg.Extractor.Extract(ctx, report); err != nil {
			return wrapSentinel(err, ErrExtract)
		}
		for _, b := range r.cfg.Buildings {
			if _, ok := metric[b]; !ok {
				return fmt.Errorf("%w: building %s missing from report %s", ErrExtract, b, report.Path)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	var result TrialResult
	if err := r.phase(ctx, i, PhaseRecord, func(ctx context.Context) error {
		measured := make(map[string]float64, len(r.cfg.Buildings))
		for _, b := range r.cfg.Buildings {
			measured[b] = metric[b]
		}
		result = TrialResult{
			Index:    i,
			Seed:     trial.Seed,
			Params:   trial.Params,
			Metric:   measured,
			Duration: r.cfg.Clock.Since(trialStart),
		}
		return table.Append(result)
	}); err != nil {
		return err
	}

	totalMetric := result.Total(r.cfg.Buildings)
	span.SetAttributes(attribute.Float64("trial.total", totalMetric))
	r.update(func(s *State) { s.CompletedTrials = i + 1 })
	if r.cfg.Observer != nil {
		r.cfg.Observer.TrialRecorded(totalMetric)
	}
	r.ledgerTrial(runID, result, totalMetric)
	monitoring.Diagf("trial %d recorded: %s=%g in %s", i, TotalColumn, totalMetric, result.Duration.Round(time.Millisecond))
	return nil
}

// phase runs one trial phase inside its own span and converts failures to
// a *TrialError.
func (r *Runner) phase(ctx context.Context, index int, phase Phase, fn func(context.Context) error) error {
	r.update(func(s *State) { s.CurrentPhase = phase })
	ctx, span := r.tracer.Start(ctx, "sensitivity."+string(phase))
	defer span.End()

	start := r.cfg.Clock.Now()
	err := fn(ctx)
	d := r.cfg.Clock.Since(start)
	monitoring.Tracef("trial %d %s took %s", index, phase, d)
	if r.cfg.Observer != nil {
		r.cfg.Observer.PhaseDone(phase, d)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.cfg.Observer != nil {
			r.cfg.Observer.TrialFailed(phase)
		}
		return &TrialError{Index: index, Phase: phase, Err: err}
	}
	return nil
}

func (r *Runner) fail(runID string, table *ResultTable, err error) (*Result, error) {
	monitoring.Opsf("run %s failed after %d trials: %v", runID, table.Len(), err)
	var partial string
	if r.cfg.PartialOnFailure && table.Len() > 0 {
		path, werr := WriteTable(r.cfg.FS, r.cfg.OutputDir, PartialResultsFile, table)
		if werr != nil {
			monitoring.Opsf("warning: could not write partial results: %v", werr)
		} else {
			partial = path
			monitoring.Opsf("wrote %d completed trials to %s", table.Len(), path)
		}
	}
	r.ledgerFinish(runID, runstore.StatusFailed, partial, nil, err)
	if partial != "" {
		return &Result{RunID: runID, Table: table, OutputPath: partial, Summary: Summarize(table.Totals())}, err
	}
	return nil, err
}

// Ledger writes are best effort: the results table is the system of record,
// so a ledger failure is logged and the run continues.
func (r *Runner) ledgerStart(runID string, total int, started time.Time) {
	if r.cfg.Ledger == nil {
		return
	}
	params, err := json.Marshal(r.cfg.Table)
	if err != nil {
		monitoring.Opsf("warning: encoding parameters for ledger: %v", err)
		return
	}
	rec := runstore.RunRecord{
		RunID:        runID,
		Status:       runstore.StatusRunning,
		Seed:         r.cfg.Seed,
		Trials:       total,
		Buildings:    r.cfg.Buildings,
		Params:       params,
		MetricColumn: TotalColumn,
		ToolVersion:  r.cfg.ToolVersion,
		StartedAt:    started,
	}
	if err := r.cfg.Ledger.InsertRun(rec); err != nil {
		monitoring.Opsf("warning: ledger: %v", err)
	}
}

func (r *Runner) ledgerTrial(runID string, res TrialResult, total float64) {
	if r.cfg.Ledger == nil {
		return
	}
	err := r.cfg.Ledger.InsertTrial(runstore.TrialRecord{
		RunID:      runID,
		Index:      res.Index,
		Seed:       res.Seed,
		Params:     res.Params,
		Metrics:    res.Metric,
		Total:      total,
		Duration:   res.Duration,
		RecordedAt: r.cfg.Clock.Now(),
	})
	if err != nil {
		monitoring.Opsf("warning: ledger: %v", err)
	}
}

func (r *Runner) ledgerFinish(runID, status, path string, summary *Summary, runErr error) {
	if r.cfg.Ledger == nil {
		return
	}
	var raw json.RawMessage
	if summary != nil {
		raw, _ = json.Marshal(summary)
	}
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.cfg.Ledger.FinishRun(runID, status, path, raw, msg, r.cfg.Clock.Now()); err != nil {
		monitoring.Opsf("warning: ledger: %v", err)
	}
}

func wrapSentinel(err, sentinel error) error {
	if err == nil {
		return nil
	}
	for _, s := range []error{ErrConfig, ErrRecordIO, ErrInvoke, ErrExtract} {
		if errors.Is(err, s) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func formatParams(table DistributionTable, set ParameterSet) string {
	parts := make([]string, 0, len(table))
	for _, name := range table.Names() {
		parts = append(parts, name+"="+set[name].String())
	}
	return strings.Join(parts, " ")
}
