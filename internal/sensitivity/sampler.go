package sensitivity

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// pcgStream is the PCG increment shared by every trial; the trial seed
// selects the state.
const pcgStream = 0x9e3779b97f4a7c15

// TrialSeed derives the seed of trial index within a run.
func TrialSeed(runSeed uint64, index int) uint64 {
	return runSeed + uint64(index)
}

// Sampler draws ParameterSets from a validated DistributionTable.
type Sampler struct {
	table DistributionTable
}

// NewSampler validates table once and returns a Sampler over a private copy.
func NewSampler(table DistributionTable) (*Sampler, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{table: table.Clone()}, nil
}

// Table returns the declarations the Sampler draws from.
func (s *Sampler) Table() DistributionTable { return s.table.Clone() }

// Sample draws one value per declared parameter, in declaration order,
// from a PCG generator seeded with seed. The same seed always yields the
// same set.
func (s *Sampler) Sample(seed uint64) (ParameterSet, error) {
	if len(s.table) == 0 {
		return nil, configErrorf("sampler has no declarations")
	}
	rng := rand.New(rand.NewPCG(seed, pcgStream))
	set := make(ParameterSet, len(s.table))
	for _, p := range s.table {
		switch p.Kind {
		case KindUniform:
			u := distuv.Uniform{Min: p.Low, Max: p.High, Src: rng}
			set[p.Name] = records.Number(u.Rand())
		case KindGaussian:
			n := distuv.Normal{Mu: p.Mean, Sigma: p.Stdev, Src: rng}
			set[p.Name] = records.Number(n.Rand())
		case KindIndex:
			i := p.Min + rng.IntN(p.Max-p.Min+1)
			set[p.Name] = p.render(i)
		case KindFixed:
			set[p.Name] = p.Value
		default:
			return nil, configErrorf("parameter %s: unknown kind %q", p.Name, p.Kind)
		}
	}
	return set, nil
}
