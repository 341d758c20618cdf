package sensitivity

import (
	"fmt"
	"slices"
	"strconv"
	"time"
)

// Fixed result table columns.
const (
	TrialIDColumn = "trial_id"
	TotalColumn   = "total_buildings_demand"
)

// TrialResult is one recorded trial.
type TrialResult struct {
	Index    int
	Seed     uint64
	Params   ParameterSet
	Metric   map[string]float64
	Duration time.Duration
}

// Total sums the metric over buildings.
func (r TrialResult) Total(buildings []string) float64 {
	var sum float64
	for _, b := range buildings {
		sum += r.Metric[b]
	}
	return sum
}

// ResultTable accumulates trial results in index order.
type ResultTable struct {
	params      []string
	buildings   []string
	metricName  string
	perBuilding bool
	rows        []TrialResult
}

// TableOptions controls optional result columns.
type TableOptions struct {
	// PerBuilding adds one "<MetricName>:<building>" column per measured
	// building after the total.
	PerBuilding bool
	MetricName  string
}

// NewResultTable creates an empty table for the declared parameter names and
// measured buildings.
func NewResultTable(params, buildings []string, opts TableOptions) *ResultTable {
	name := opts.MetricName
	if name == "" {
		name = DefaultMetricColumn
	}
	return &ResultTable{
		params:      slices.Clone(params),
		buildings:   slices.Clone(buildings),
		metricName:  name,
		perBuilding: opts.PerBuilding,
	}
}

// Append records the next trial. Indices must arrive as 0, 1, 2, ...
func (t *ResultTable) Append(r TrialResult) error {
	if r.Index != len(t.rows) {
		return fmt.Errorf("trial %d appended out of order, expected %d", r.Index, len(t.rows))
	}
	for _, p := range t.params {
		if _, ok := r.Params[p]; !ok {
			return fmt.Errorf("trial %d missing parameter %s", r.Index, p)
		}
	}
	for _, b := range t.buildings {
		if _, ok := r.Metric[b]; !ok {
			return fmt.Errorf("trial %d missing metric for building %s", r.Index, b)
		}
	}
	r.Params = r.Params.Clone()
	metric := make(map[string]float64, len(r.Metric))
	for k, v := range r.Metric {
		metric[k] = v
	}
	r.Metric = metric
	t.rows = append(t.rows, r)
	return nil
}

// Len returns the number of recorded trials.
func (t *ResultTable) Len() int { return len(t.rows) }

// Rows returns the recorded trials.
func (t *ResultTable) Rows() []TrialResult { return slices.Clone(t.rows) }

// Params returns the parameter column names.
func (t *ResultTable) Params() []string { return slices.Clone(t.params) }

// Totals returns the total metric of each trial in index order.
func (t *ResultTable) Totals() []float64 {
	out := make([]float64, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Total(t.buildings)
	}
	return out
}

// Header returns the column names.
func (t *ResultTable) Header() []string {
	h := make([]string, 0, 2+len(t.params)+len(t.buildings))
	h = append(h, TrialIDColumn)
	h = append(h, t.params...)
	h = append(h, TotalColumn)
	if t.perBuilding {
		for _, b := range t.buildings {
			h = append(h, t.metricName+":"+b)
		}
	}
	return h
}

// Records renders every row as strings in Header order.
func (t *ResultTable) Records() [][]string {
	width := len(t.Header())
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		rec := make([]string, 0, width)
		rec = append(rec, strconv.Itoa(r.Index))
		for _, p := range t.params {
			rec = append(rec, r.Params[p].String())
		}
		rec = append(rec, formatFloat(r.Total(t.buildings)))
		if t.perBuilding {
			for _, b := range t.buildings {
				rec = append(rec, formatFloat(r.Metric[b]))
			}
		}
		out[i] = rec
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
