// Package report renders sensitivity results as an HTML chart page and PNG
// scatter plots of the total metric against each numeric parameter.
package report

import (
	"fmt"

	"github.com/banshee-data/demand.sensitivity/internal/security"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

// ChartsFile is the HTML page written next to the results table.
const ChartsFile = "charts.html"

// series is one parameter column paired with the trial totals.
type series struct {
	param  string
	trials []int
	x      []float64
	y      []float64
}

// numericSeries returns one series per parameter whose values are all
// numbers. Label parameters are skipped.
func numericSeries(t *sensitivity.ResultTable) []series {
	rows := t.Rows()
	totals := t.Totals()
	var out []series
	for _, name := range t.Params() {
		s := series{param: name}
		numeric := true
		for i, r := range rows {
			f, ok := r.Params[name].Float()
			if !ok {
				numeric = false
				break
			}
			s.trials = append(s.trials, r.Index)
			s.x = append(s.x, f)
			s.y = append(s.y, totals[i])
		}
		if numeric && len(s.x) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// PlotFile is the PNG name for a parameter. Parameter names come from user
// configuration so they are sanitized before use as a path component.
func PlotFile(param string) string {
	return fmt.Sprintf("scatter_%s.png", security.SanitizeFilename(param))
}
