package sensitivity

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
)

// Output file names.
const (
	ResultsFile        = "sensitivity_results.csv"
	PartialResultsFile = "sensitivity_results.partial.csv"
)

// DefaultOutputDir is where results go inside a project.
func DefaultOutputDir(project string) string {
	return filepath.Join(project, "output", "sensitivity")
}

// EncodeTable renders the table as CSV.
func EncodeTable(t *ResultTable) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header()); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Records()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTable creates dir if needed and writes the table to dir/name in one
// step. It returns the written path.
func WriteTable(fsys fsutil.FileSystem, dir, name string, t *ResultTable) (string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	data, err := EncodeTable(t)
	if err != nil {
		return "", fmt.Errorf("encoding results: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing results: %w", err)
	}
	return path, nil
}
