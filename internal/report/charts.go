package report

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

// RenderCharts writes a page with one scatter chart per numeric parameter.
func RenderCharts(w io.Writer, t *sensitivity.ResultTable, runID string) error {
	all := numericSeries(t)
	if len(all) == 0 {
		return fmt.Errorf("no numeric parameters to chart")
	}

	page := components.NewPage()
	for _, s := range all {
		data := make([]opts.ScatterData, len(s.x))
		for i := range s.x {
			data[i] = opts.ScatterData{
				Name:  fmt.Sprintf("trial %d", s.trials[i]),
				Value: []interface{}{s.x[i], s.y[i]},
			}
		}
		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sensitivity " + runID, Width: "900px", Height: "500px"}),
			charts.WithTitleOpts(opts.Title{Title: s.param, Subtitle: fmt.Sprintf("run=%s trials=%d", runID, len(data))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: s.param, NameLocation: "middle", NameGap: 25, Min: "dataMin", Max: "dataMax"}),
			charts.WithYAxisOpts(opts.YAxis{Name: sensitivity.TotalColumn, NameLocation: "middle", NameGap: 50, Min: "dataMin", Max: "dataMax"}),
		)
		scatter.AddSeries(s.param, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
		page.AddCharts(scatter)
	}
	return page.Render(w)
}

// WriteCharts renders the chart page into dir and returns its path.
func WriteCharts(fsys fsutil.FileSystem, dir string, t *sensitivity.ResultTable, runID string) (string, error) {
	var buf bytes.Buffer
	if err := RenderCharts(&buf, t, runID); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ChartsFile)
	if err := fsutil.WriteFileAtomic(fsys, path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing charts: %w", err)
	}
	return path, nil
}
