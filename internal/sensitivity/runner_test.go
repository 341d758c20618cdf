package sensitivity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/records"
	"github.com/banshee-data/demand.sensitivity/internal/runstore"
	"github.com/banshee-data/demand.sensitivity/internal/timeutil"
)

const outDir = "/project/output/sensitivity"

func exampleTable() DistributionTable {
	return DistributionTable{
		Gaussian("Es", 0.8, 1).BindTo(records.Architecture, "Es"),
		Index("void_deck", 0, 2).BindTo(records.Architecture, "void_deck"),
	}
}

func constantExtractor(metric map[string]float64) Extractor {
	return ExtractorFunc(func(ctx context.Context, report ReportHandle) (map[string]float64, error) {
		return metric, nil
	})
}

var stubInvoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
	return ReportHandle{Path: "/project/outputs/data/demand/Total_demand.csv"}, nil
})

type fixture struct {
	store *records.MemoryStore
	fs    *fsutil.MemoryFileSystem
	cfg   Config
}

func newFixture(t *testing.T, table DistributionTable, buildings ...string) *fixture {
	t.Helper()
	store := fixtureStore(t, buildings...)
	ow, err := NewOverwriter(store, table)
	require.NoError(t, err)
	mfs := fsutil.NewMemoryFileSystem()
	return &fixture{
		store: store,
		fs:    mfs,
		cfg: Config{
			Table:      table,
			Overwriter: ow,
			Invoker:    stubInvoker,
			Extractor:  constantExtractor(map[string]float64{"buildingA": 100}),
			Buildings:  buildings,
			OutputDir:  outDir,
			Seed:       42,
			FS:         mfs,
			Clock:      timeutil.NewMockClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)),
		},
	}
}

func randomSource(t *testing.T, table DistributionTable, seed uint64, trials int) *RandomSource {
	t.Helper()
	s, err := NewSampler(table)
	require.NoError(t, err)
	src, err := NewRandomSource(s, seed, trials)
	require.NoError(t, err)
	return src
}

func TestRunner_EndToEnd(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")

	// The invoker sees the records as overwritten for the current trial.
	sampler, err := NewSampler(exampleTable())
	require.NoError(t, err)
	var calls int
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		want, err := sampler.Sample(TrialSeed(42, calls))
		require.NoError(t, err)
		assert.True(t, want["Es"].Equal(get(t, f.store, records.Architecture, "buildingA", "Es")), "trial %d", calls)
		assert.True(t, want["void_deck"].Equal(get(t, f.store, records.Architecture, "buildingA", "void_deck")), "trial %d", calls)
		assert.Equal(t, []string{"buildingA"}, buildings)
		calls++
		return ReportHandle{Path: "report.csv"}, nil
	})

	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	assert.Equal(t, outDir+"/"+ResultsFile, res.OutputPath)
	assert.Equal(t, []float64{100, 100, 100}, res.Table.Totals())
	assert.Equal(t, Summary{Trials: 3, Mean: 100, Min: 100, Max: 100}, res.Summary)

	var want strings.Builder
	want.WriteString("trial_id,Es,void_deck,total_buildings_demand\n")
	for i := 0; i < 3; i++ {
		set, err := sampler.Sample(TrialSeed(42, i))
		require.NoError(t, err)
		fmt.Fprintf(&want, "%d,%s,%s,100\n", i, set["Es"], set["void_deck"])
	}
	data, err := f.fs.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))

	st := r.State()
	assert.Equal(t, StatusComplete, st.Status)
	assert.Equal(t, 3, st.CompletedTrials)
	assert.Equal(t, res.RunID, st.RunID)
	assert.Empty(t, st.CurrentPhase)
	require.NotNil(t, st.CompletedAt)
}

func TestRunner_SameSeedSameTable(t *testing.T) {
	run := func() []byte {
		f := newFixture(t, exampleTable(), "buildingA")
		r, err := NewRunner(f.cfg)
		require.NoError(t, err)
		res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 7, 5))
		require.NoError(t, err)
		data, err := f.fs.ReadFile(res.OutputPath)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestNewRunner_RejectsBadConfig(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	cases := map[string]func(*Config){
		"empty table":        func(c *Config) { c.Table = nil },
		"invalid table":      func(c *Config) { c.Table = DistributionTable{Gaussian("Es", 0.8, 0)} },
		"no buildings":       func(c *Config) { c.Buildings = nil },
		"blank building":     func(c *Config) { c.Buildings = []string{" "} },
		"duplicate building": func(c *Config) { c.Buildings = []string{"buildingA", "buildingA"} },
		"no invoker":         func(c *Config) { c.Invoker = nil },
		"no extractor":       func(c *Config) { c.Extractor = nil },
		"no overwriter":      func(c *Config) { c.Overwriter = nil },
		"no output dir":      func(c *Config) { c.OutputDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := f.cfg
			mutate(&cfg)
			_, err := NewRunner(cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestRunner_UnknownBuildingFailsBeforeAnyTrial(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	f.cfg.Buildings = []string{"ghost"}
	invoked := false
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		invoked = true
		return ReportHandle{}, nil
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrConfig)
	var te *TrialError
	assert.False(t, errors.As(err, &te), "preflight failures are not trial failures")
	assert.False(t, invoked)
	assert.Zero(t, f.store.Commits(records.Architecture))
	assert.Empty(t, f.fs.Files())
	assert.Equal(t, StatusFailed, r.State().Status)
}

func TestRunner_InvokerFailureStopsRun(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	var calls int
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		calls++
		if calls == 2 {
			return ReportHandle{}, errors.New("exit status 1")
		}
		return ReportHandle{Path: "r.csv"}, nil
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	assert.Nil(t, res)
	require.Error(t, err)

	var te *TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Index)
	assert.Equal(t, PhaseInvoke, te.Phase)
	assert.ErrorIs(t, err, ErrInvoke)
	assert.Equal(t, 2, calls, "no trial after the failing one is attempted")
	assert.False(t, f.fs.Exists(outDir+"/"+ResultsFile))

	st := r.State()
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, 1, st.CompletedTrials)
	assert.Contains(t, st.Error, "trial 1")
}

func TestRunner_PartialOnFailure(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	f.cfg.PartialOnFailure = true
	var calls int
	f.cfg.Extractor = ExtractorFunc(func(ctx context.Context, report ReportHandle) (map[string]float64, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("column GRID_MWhyr missing")
		}
		return map[string]float64{"buildingA": float64(calls)}, nil
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	assert.ErrorIs(t, err, ErrExtract)
	require.NotNil(t, res)
	assert.Equal(t, outDir+"/"+PartialResultsFile, res.OutputPath)
	assert.Equal(t, []float64{1, 2}, res.Table.Totals())
	assert.False(t, f.fs.Exists(outDir+"/"+ResultsFile))
	assert.True(t, f.fs.Exists(res.OutputPath))
}

func TestRunner_MissingBuildingInReport(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA", "buildingB")
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), randomSource(t, exampleTable(), 42, 2))
	var te *TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseExtract, te.Phase)
	assert.Equal(t, 0, te.Index)
	assert.ErrorIs(t, err, ErrExtract)
	assert.Contains(t, err.Error(), "buildingB")
}

func TestRunner_ExtraReportBuildingsIgnored(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	f.cfg.Extractor = constantExtractor(map[string]float64{"buildingA": 10, "buildingZ": 1e6})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10}, res.Table.Totals())
}

func TestRunner_CommitFailureIsRecordIO(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	f.store.FailCommit = records.Architecture
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), randomSource(t, exampleTable(), 42, 2))
	var te *TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseOverwrite, te.Phase)
	assert.ErrorIs(t, err, ErrRecordIO)
}

type badSource struct{}

func (badSource) Len() int { return 1 }

func (badSource) Trial(i int) (Trial, error) {
	return Trial{Index: i, Params: ParameterSet{"Es": records.Number(0.5), "void_deck": records.Number(7)}}, nil
}

func TestRunner_OutOfRangeTrialRejected(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), badSource{})
	var te *TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, PhaseSample, te.Phase)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Zero(t, f.store.Commits(records.Architecture))
}

func TestRunner_ContextCancelledBetweenTrials(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return ReportHandle{}, nil
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(ctx, randomSource(t, exampleTable(), 42, 5))
	var te *TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Index)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

type fakeLedger struct {
	mu       sync.Mutex
	runs     []runstore.RunRecord
	trials   []runstore.TrialRecord
	status   string
	path     string
	summary  json.RawMessage
	errMsg   string
	failures bool
}

func (l *fakeLedger) InsertRun(rec runstore.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures {
		return errors.New("disk I/O error")
	}
	l.runs = append(l.runs, rec)
	return nil
}

func (l *fakeLedger) InsertTrial(rec runstore.TrialRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures {
		return errors.New("disk I/O error")
	}
	l.trials = append(l.trials, rec)
	return nil
}

func (l *fakeLedger) FinishRun(runID, status, outputPath string, summary json.RawMessage, errMsg string, completedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures {
		return errors.New("disk I/O error")
	}
	l.status, l.path, l.summary, l.errMsg = status, outputPath, summary, errMsg
	return nil
}

func TestRunner_RecordsLedger(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	ledger := &fakeLedger{}
	f.cfg.Ledger = ledger
	f.cfg.ToolVersion = "1.2.3"
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	require.NoError(t, err)

	require.Len(t, ledger.runs, 1)
	run := ledger.runs[0]
	assert.Equal(t, res.RunID, run.RunID)
	assert.Equal(t, runstore.StatusRunning, run.Status)
	assert.Equal(t, uint64(42), run.Seed)
	assert.Equal(t, 3, run.Trials)
	assert.Equal(t, []string{"buildingA"}, run.Buildings)
	assert.Equal(t, "1.2.3", run.ToolVersion)

	var decoded DistributionTable
	require.NoError(t, json.Unmarshal(run.Params, &decoded))
	assert.Equal(t, exampleTable().Names(), decoded.Names())

	require.Len(t, ledger.trials, 3)
	for i, tr := range ledger.trials {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, TrialSeed(42, i), tr.Seed)
		assert.Equal(t, 100.0, tr.Total)
	}
	assert.Equal(t, runstore.StatusComplete, ledger.status)
	assert.Equal(t, res.OutputPath, ledger.path)

	var summary Summary
	require.NoError(t, json.Unmarshal(ledger.summary, &summary))
	assert.Equal(t, res.Summary, summary)
}

func TestRunner_LedgerFailuresDoNotStopRun(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	f.cfg.Ledger = &fakeLedger{failures: true}
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	res, err := r.Run(context.Background(), randomSource(t, exampleTable(), 42, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Table.Len())
}

func TestRunner_LedgerRecordsFailure(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	ledger := &fakeLedger{}
	f.cfg.Ledger = ledger
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		return ReportHandle{}, errors.New("boom")
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), randomSource(t, exampleTable(), 42, 2))
	require.Error(t, err)
	assert.Equal(t, runstore.StatusFailed, ledger.status)
	assert.Contains(t, ledger.errMsg, "boom")
	assert.Empty(t, ledger.trials)
}

type countingObserver struct {
	mu       sync.Mutex
	phases   map[Phase]int
	recorded []float64
	failed   []Phase
}

func (o *countingObserver) PhaseDone(p Phase, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phases == nil {
		o.phases = map[Phase]int{}
	}
	o.phases[p]++
}

func (o *countingObserver) TrialRecorded(total float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded = append(o.recorded, total)
}

func (o *countingObserver) TrialFailed(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, p)
}

func TestRunner_Observer(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	obs := &countingObserver{}
	f.cfg.Observer = obs
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), randomSource(t, exampleTable(), 42, 3))
	require.NoError(t, err)
	for _, p := range Phases {
		assert.Equal(t, 3, obs.phases[p], "phase %s", p)
	}
	assert.Equal(t, []float64{100, 100, 100}, obs.recorded)
	assert.Empty(t, obs.failed)
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, exampleTable(), "buildingA")
	entered := make(chan struct{})
	release := make(chan struct{})
	f.cfg.Invoker = InvokerFunc(func(ctx context.Context, buildings []string) (ReportHandle, error) {
		close(entered)
		<-release
		return ReportHandle{}, nil
	})
	r, err := NewRunner(f.cfg)
	require.NoError(t, err)

	src := randomSource(t, exampleTable(), 42, 1)
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), src)
		done <- err
	}()
	<-entered

	st := r.State()
	assert.Equal(t, StatusRunning, st.Status)
	assert.Equal(t, PhaseInvoke, st.CurrentPhase)
	assert.Equal(t, 1, st.TotalTrials)

	_, err = r.Run(context.Background(), randomSource(t, exampleTable(), 42, 1))
	assert.ErrorContains(t, err, "already in progress")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StatusComplete, r.State().Status)
}
