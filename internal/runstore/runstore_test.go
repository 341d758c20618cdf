package runstore

import (
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/demand.sensitivity/internal/db"
	"github.com/banshee-data/demand.sensitivity/internal/records"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	sqlDB, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewStore(sqlDB.DB)
}

var started = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func insertTestRun(t *testing.T, s *Store, id string, seed uint64) {
	t.Helper()
	require.NoError(t, s.InsertRun(RunRecord{
		RunID:        id,
		Seed:         seed,
		Trials:       3,
		Buildings:    []string{"B1001", "B1002"},
		Params:       json.RawMessage(`[{"name":"Es","kind":"gaussian"}]`),
		MetricColumn: "total_buildings_demand",
		ToolVersion:  "v0.1.0",
		StartedAt:    started,
	}))
}

func TestStore_RunLifecycle(t *testing.T) {
	s := newTestStore(t)
	id := NewRunID()
	insertTestRun(t, s, id, 42)

	rec, err := s.GetRun(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Equal(t, uint64(42), rec.Seed)
	assert.Equal(t, []string{"B1001", "B1002"}, rec.Buildings)
	assert.True(t, rec.StartedAt.Equal(started))
	assert.Nil(t, rec.CompletedAt)

	done := started.Add(5 * time.Minute)
	require.NoError(t, s.FinishRun(id, StatusComplete, "/p/output/sensitivity/sensitivity_results.csv",
		json.RawMessage(`{"mean":100}`), "", done))

	rec, err = s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.JSONEq(t, `{"mean":100}`, string(rec.Summary))
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CompletedAt.Equal(done))
	assert.Empty(t, rec.Error)
}

func TestStore_FinishRunValidation(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.FinishRun("missing", StatusFailed, "", nil, "boom", started))

	id := NewRunID()
	insertTestRun(t, s, id, 1)
	assert.Error(t, s.FinishRun(id, StatusRunning, "", nil, "", started))
}

func TestStore_GetRunMissing(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.GetRun("nope")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_TrialsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := NewRunID()
	insertTestRun(t, s, id, math.MaxUint64)

	want := []TrialRecord{
		{
			RunID: id, Index: 0, Seed: math.MaxUint64,
			Params:     map[string]records.Value{"Es": records.Number(0.81), "type_wall": records.Text("WALL_AS3")},
			Metrics:    map[string]float64{"B1001": 100, "B1002": 50.5},
			Total:      150.5,
			Duration:   1500 * time.Millisecond,
			RecordedAt: started.Add(time.Second),
		},
		{
			RunID: id, Index: 1, Seed: 0,
			Params:     map[string]records.Value{"Es": records.Number(0.7), "type_wall": records.Text("WALL_AS1")},
			Metrics:    map[string]float64{"B1001": 90, "B1002": 40},
			Total:      130,
			Duration:   time.Second,
			RecordedAt: started.Add(2 * time.Second),
		},
	}
	// Insert out of order; ListTrials sorts by index.
	require.NoError(t, s.InsertTrial(want[1]))
	require.NoError(t, s.InsertTrial(want[0]))
	assert.Error(t, s.InsertTrial(want[0]), "duplicate index must be rejected")

	got, err := s.ListTrials(id)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trials mismatch (-want +got):\n%s", diff)
	}

	rec, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), rec.Seed)
}

func TestStore_ListAndDeleteRuns(t *testing.T) {
	s := newTestStore(t)
	first, second := NewRunID(), NewRunID()
	insertTestRun(t, s, first, 1)
	require.NoError(t, s.InsertRun(RunRecord{
		RunID: second, Seed: 2, Trials: 1, MetricColumn: "total_buildings_demand",
		StartedAt: started.Add(time.Hour),
	}))
	require.NoError(t, s.InsertTrial(TrialRecord{RunID: first, Index: 0, RecordedAt: started}))

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].RunID)
	assert.Equal(t, 1, runs[1].Recorded)

	require.NoError(t, s.DeleteRun(first))
	trials, err := s.ListTrials(first)
	require.NoError(t, err)
	assert.Empty(t, trials)
}
