package records

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
)

// DefaultFiles maps each group to its file name inside a scenario's
// building-properties directory.
var DefaultFiles = map[Group]string{
	Architecture:  "architecture.csv",
	InternalLoads: "internal_loads.csv",
	Comfort:       "indoor_comfort.csv",
	Geometry:      "zone.csv",
}

// CSVStore persists each group as a delimited file with a KeyColumn header.
// Commits write through a temporary file and rename.
type CSVStore struct {
	FS    fsutil.FileSystem
	Dir   string
	Files map[Group]string
}

// NewCSVStore creates a store rooted at dir using DefaultFiles.
func NewCSVStore(fsys fsutil.FileSystem, dir string) *CSVStore {
	files := make(map[Group]string, len(DefaultFiles))
	for g, f := range DefaultFiles {
		files[g] = f
	}
	return &CSVStore{FS: fsys, Dir: dir, Files: files}
}

// Path returns the file backing group.
func (s *CSVStore) Path(group Group) (string, error) {
	name, ok := s.Files[group]
	if !ok {
		return "", fmt.Errorf("%w: no file configured for %s", ErrGroupNotFound, group)
	}
	return filepath.Join(s.Dir, name), nil
}

func (s *CSVStore) Checkout(ctx context.Context, group Group) (*Table, error) {
	path, err := s.Path(group)
	if err != nil {
		return nil, err
	}
	data, err := s.FS.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return decodeTable(group, data)
}

func (s *CSVStore) Commit(ctx context.Context, table *Table) error {
	path, err := s.Path(table.Group)
	if err != nil {
		return err
	}
	data, err := encodeTable(table)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.FS, path, data, 0o644)
}

func decodeTable(group Group, data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", group, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("parsing %s: missing header", group)
	}
	header := recs[0]
	key := slices.Index(header, KeyColumn)
	if key < 0 {
		return nil, fmt.Errorf("parsing %s: header has no %s column", group, KeyColumn)
	}
	var columns []string
	for i, h := range header {
		if i != key {
			columns = append(columns, h)
		}
	}
	t := NewTable(group, columns...)
	for line, rec := range recs[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("parsing %s line %d: %d fields, header has %d", group, line+2, len(rec), len(header))
		}
		attrs := make(map[string]Value, len(columns))
		for i, h := range header {
			if i != key {
				attrs[h] = ParseCell(rec[i])
			}
		}
		if err := t.AddRow(rec[key], attrs); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func encodeTable(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{KeyColumn}, t.Columns...)); err != nil {
		return nil, err
	}
	for _, row := range t.Rows {
		rec := make([]string, 0, len(t.Columns)+1)
		rec = append(rec, row.Name)
		for _, c := range t.Columns {
			if v, ok := row.Attrs[c]; ok {
				rec = append(rec, v.String())
			} else {
				rec = append(rec, "")
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t.Group, err)
	}
	return buf.Bytes(), nil
}
