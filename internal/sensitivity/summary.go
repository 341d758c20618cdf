package sensitivity

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the spread of the total metric across trials.
type Summary struct {
	Trials int     `json:"trials"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes the summary of totals. Stddev is the sample standard
// deviation and is zero for fewer than two trials.
func Summarize(totals []float64) Summary {
	s := Summary{Trials: len(totals)}
	if len(totals) == 0 {
		return s
	}
	s.Min = floats.Min(totals)
	s.Max = floats.Max(totals)
	if len(totals) == 1 {
		s.Mean = totals[0]
		return s
	}
	s.Mean, s.Stddev = stat.MeanStdDev(totals, nil)
	return s
}
