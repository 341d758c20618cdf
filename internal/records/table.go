// Package records models the persisted building-record groups the
// sensitivity runner overwrites between trials, and the stores that hold
// them. Every group is a table keyed by building name.
package records

import (
	"fmt"
	"slices"
)

// KeyColumn is the building identifier column in every group.
const KeyColumn = "Name"

// Row is one building's attributes within a group.
type Row struct {
	Name  string
	Attrs map[string]Value
}

// Table is a whole record group. Columns excludes KeyColumn and keeps the
// order the store returned, so a round trip preserves layout.
type Table struct {
	Group   Group
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given attribute columns.
func NewTable(group Group, columns ...string) *Table {
	return &Table{Group: group, Columns: slices.Clone(columns)}
}

// AddRow appends a building. Attributes not yet in Columns are appended to
// Columns in sorted order.
func (t *Table) AddRow(name string, attrs map[string]Value) error {
	if name == "" {
		return fmt.Errorf("group %s: empty building name", t.Group)
	}
	if _, ok := t.index(name); ok {
		return fmt.Errorf("group %s: duplicate building %q", t.Group, name)
	}
	row := Row{Name: name, Attrs: make(map[string]Value, len(attrs))}
	var added []string
	for k, v := range attrs {
		row.Attrs[k] = v
		if !slices.Contains(t.Columns, k) {
			added = append(added, k)
		}
	}
	slices.Sort(added)
	t.Columns = append(t.Columns, added...)
	t.Rows = append(t.Rows, row)
	return nil
}

func (t *Table) index(name string) (int, bool) {
	for i := range t.Rows {
		if t.Rows[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Has reports whether the building is present.
func (t *Table) Has(name string) bool {
	_, ok := t.index(name)
	return ok
}

// Get returns one attribute of one building.
func (t *Table) Get(name, attr string) (Value, bool) {
	i, ok := t.index(name)
	if !ok {
		return Value{}, false
	}
	v, ok := t.Rows[i].Attrs[attr]
	return v, ok
}

// Names returns building names in row order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Name
	}
	return out
}

// SetAll assigns v to attr on every row. A new attribute is appended to
// Columns. Other attributes are untouched.
func (t *Table) SetAll(attr string, v Value) {
	if !slices.Contains(t.Columns, attr) {
		t.Columns = append(t.Columns, attr)
	}
	for i := range t.Rows {
		if t.Rows[i].Attrs == nil {
			t.Rows[i].Attrs = make(map[string]Value)
		}
		t.Rows[i].Attrs[attr] = v
	}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{Group: t.Group, Columns: slices.Clone(t.Columns), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		attrs := make(map[string]Value, len(r.Attrs))
		for k, v := range r.Attrs {
			attrs[k] = v
		}
		out.Rows[i] = Row{Name: r.Name, Attrs: attrs}
	}
	return out
}
