package report

import (
	"bytes"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

// WritePlots saves one PNG scatter plot per numeric parameter into dir and
// returns the written paths.
func WritePlots(fsys fsutil.FileSystem, dir string, t *sensitivity.ResultTable) ([]string, error) {
	var paths []string
	for _, s := range numericSeries(t) {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s vs %s", sensitivity.TotalColumn, s.param)
		p.X.Label.Text = s.param
		p.Y.Label.Text = sensitivity.TotalColumn
		p.Add(plotter.NewGrid())

		pts := make(plotter.XYs, len(s.x))
		for i := range s.x {
			pts[i] = plotter.XY{X: s.x[i], Y: s.y[i]}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return paths, fmt.Errorf("plotting %s: %w", s.param, err)
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Color = color.RGBA{R: 31, G: 104, B: 142, A: 255}
		p.Add(sc)

		wt, err := p.WriterTo(8*vg.Inch, 5*vg.Inch, "png")
		if err != nil {
			return paths, fmt.Errorf("rendering %s: %w", s.param, err)
		}
		var buf bytes.Buffer
		if _, err := wt.WriteTo(&buf); err != nil {
			return paths, fmt.Errorf("rendering %s: %w", s.param, err)
		}
		path := filepath.Join(dir, PlotFile(s.param))
		if err := fsutil.WriteFileAtomic(fsys, path, buf.Bytes(), 0o644); err != nil {
			return paths, fmt.Errorf("writing plot: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
