package sensitivity

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/banshee-data/demand.sensitivity/internal/records"
	"github.com/banshee-data/demand.sensitivity/internal/runstore"
)

// Trial is one (index, parameters) pair handed to the Runner.
type Trial struct {
	Index  int
	Seed   uint64
	Params ParameterSet
}

// TrialSource provides the parameters of each trial. The Runner asks for
// indices 0..Len()-1 in order and assembles the table the same way for
// every source.
type TrialSource interface {
	Len() int
	Trial(index int) (Trial, error)
}

// RandomSource samples trial i with TrialSeed(Seed, i).
type RandomSource struct {
	Sampler *Sampler
	Seed    uint64
	Trials  int
}

// NewRandomSource validates the trial count and returns a RandomSource.
func NewRandomSource(s *Sampler, seed uint64, trials int) (*RandomSource, error) {
	if s == nil {
		return nil, configErrorf("random source needs a sampler")
	}
	if trials < 1 {
		return nil, configErrorf("trial count must be at least 1, got %d", trials)
	}
	return &RandomSource{Sampler: s, Seed: seed, Trials: trials}, nil
}

func (r *RandomSource) Len() int { return r.Trials }

func (r *RandomSource) Trial(index int) (Trial, error) {
	if index < 0 || index >= r.Trials {
		return Trial{}, fmt.Errorf("trial index %d out of range [0, %d)", index, r.Trials)
	}
	seed := TrialSeed(r.Seed, index)
	params, err := r.Sampler.Sample(seed)
	if err != nil {
		return Trial{}, err
	}
	return Trial{Index: index, Seed: seed, Params: params}, nil
}

// ExternalSource replays parameter sets chosen elsewhere: a trials file
// produced by an external search, or an earlier run in the ledger.
type ExternalSource struct {
	trials []Trial
}

// NewExternalSource checks every set against table and, when space is
// non-empty, against the search space bounds. Fixed parameters missing from
// a set are filled from their declaration.
func NewExternalSource(table DistributionTable, space DistributionTable, sets []ParameterSet) (*ExternalSource, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, configErrorf("external trial store holds no trials")
	}
	src := &ExternalSource{trials: make([]Trial, len(sets))}
	for i, set := range sets {
		set = set.Clone()
		for _, p := range table {
			if _, ok := set[p.Name]; !ok && p.Kind == KindFixed {
				set[p.Name] = p.Value
			}
		}
		if err := table.CheckSet(set); err != nil {
			return nil, fmt.Errorf("external trial %d: %w", i, err)
		}
		for _, bound := range space {
			v, ok := set[bound.Name]
			if ok && !bound.Contains(v) {
				return nil, configErrorf("external trial %d: %s=%s outside search space %s", i, bound.Name, v, bound)
			}
		}
		src.trials[i] = Trial{Index: i, Params: set}
	}
	return src, nil
}

func (e *ExternalSource) Len() int { return len(e.trials) }

func (e *ExternalSource) Trial(index int) (Trial, error) {
	if index < 0 || index >= len(e.trials) {
		return Trial{}, fmt.Errorf("trial index %d out of range [0, %d)", index, len(e.trials))
	}
	t := e.trials[index]
	t.Params = t.Params.Clone()
	return t, nil
}

// ReadTrialsCSV reads one ParameterSet per row. Columns name parameters;
// the trial id column and metric columns of a previous results table are
// ignored so a results file can be replayed directly.
func ReadTrialsCSV(r io.Reader, table DistributionTable) ([]ParameterSet, error) {
	cr := csv.NewReader(r)
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, configErrorf("reading trials: %v", err)
	}
	if len(recs) < 1 {
		return nil, configErrorf("trials file has no header")
	}
	header := recs[0]
	use := make([]bool, len(header))
	for i, h := range header {
		switch {
		case h == TrialIDColumn || h == TotalColumn || strings.Contains(h, ":"):
		case slices.Contains(table.Names(), h):
			use[i] = true
		default:
			return nil, configErrorf("trials file column %q is not a declared parameter", h)
		}
	}
	sets := make([]ParameterSet, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		set := ParameterSet{}
		for i, cell := range rec {
			if use[i] {
				set[header[i]] = records.ParseValue(cell)
			}
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// ReadTrialsCSVBytes is ReadTrialsCSV over an in-memory file.
func ReadTrialsCSVBytes(data []byte, table DistributionTable) ([]ParameterSet, error) {
	return ReadTrialsCSV(bytes.NewReader(data), table)
}

// TrialLister is the part of the run ledger a replay needs.
type TrialLister interface {
	ListTrials(runID string) ([]runstore.TrialRecord, error)
}

// LedgerSource replays the recorded trials of an earlier run, keeping
// their seeds.
func LedgerSource(ledger TrialLister, runID string, table DistributionTable) (*ExternalSource, error) {
	recs, err := ledger.ListTrials(runID)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if len(recs) == 0 {
		return nil, configErrorf("run %s has no recorded trials", runID)
	}
	sets := make([]ParameterSet, len(recs))
	for i, rec := range recs {
		if rec.Index != i {
			return nil, configErrorf("run %s: trial %d recorded at position %d", runID, rec.Index, i)
		}
		sets[i] = ParameterSet(rec.Params)
	}
	src, err := NewExternalSource(table, nil, sets)
	if err != nil {
		return nil, err
	}
	for i := range src.trials {
		src.trials[i].Seed = recs[i].Seed
	}
	return src, nil
}
