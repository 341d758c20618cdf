package sensitivity

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
)

// Default report columns of the CEA total demand file.
const (
	DefaultIDColumn     = "Name"
	DefaultMetricColumn = "GRID_MWhyr"
)

// Extractor reads per-building metric values from a report.
type Extractor interface {
	Extract(ctx context.Context, report ReportHandle) (map[string]float64, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, report ReportHandle) (map[string]float64, error)

func (f ExtractorFunc) Extract(ctx context.Context, report ReportHandle) (map[string]float64, error) {
	return f(ctx, report)
}

// CSVExtractor reads one identifier column and one metric column from a
// delimited report.
type CSVExtractor struct {
	FS           fsutil.FileSystem
	IDColumn     string
	MetricColumn string
}

// NewCSVExtractor returns an extractor for the default Name/GRID_MWhyr
// columns.
func NewCSVExtractor(fsys fsutil.FileSystem) *CSVExtractor {
	return &CSVExtractor{FS: fsys, IDColumn: DefaultIDColumn, MetricColumn: DefaultMetricColumn}
}

// Extract streams the report row by row, so large district reports are
// never held in memory whole.
func (e *CSVExtractor) Extract(ctx context.Context, report ReportHandle) (map[string]float64, error) {
	f, err := e.FS.Open(report.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrExtract, report.Path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s is empty", ErrExtract, report.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrExtract, report.Path, err)
	}
	idCol := slices.Index(header, e.IDColumn)
	metricCol := slices.Index(header, e.MetricColumn)
	if idCol < 0 {
		return nil, fmt.Errorf("%w: %s has no %s column", ErrExtract, report.Path, e.IDColumn)
	}
	if metricCol < 0 {
		return nil, fmt.Errorf("%w: %s has no %s column", ErrExtract, report.Path, e.MetricColumn)
	}

	out := make(map[string]float64)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %w", ErrExtract, report.Path, err)
		}
		id := rec[idCol]
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%w: %s line %d: duplicate building %q", ErrExtract, report.Path, line, id)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[metricCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %s=%q: %w", ErrExtract, report.Path, line, e.MetricColumn, rec[metricCol], err)
		}
		out[id] = v
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows", ErrExtract, report.Path)
	}
	return out, nil
}
