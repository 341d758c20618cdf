// Package sqlstore persists building record groups in a SQL table, one row
// per (group, building, attribute). sqlite is the default backend; Postgres
// is reached through the pgx database/sql driver.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/demand.sensitivity/internal/records"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// markerKind flags the per-building row that fixes row order even when a
// building carries no attributes.
const markerKind = "marker"

// Store implements records.Store and records.BatchCommitter.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database whose schema already contains building_records.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Checkout(ctx context.Context, group records.Group) (*records.Table, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT building_name, attribute, value_kind, num_value, text_value, column_order
		FROM building_records
		WHERE record_group = ?
		ORDER BY row_order, column_order`), string(group))
	if err != nil {
		return nil, fmt.Errorf("loading group %s: %w", group, err)
	}
	defer rows.Close()

	type cell struct {
		attr  string
		value records.Value
	}
	var (
		order    []string
		cells    = map[string][]cell{}
		colOrder = map[string]int{}
	)
	for rows.Next() {
		var (
			name, attr, kind string
			num              sql.NullFloat64
			text             sql.NullString
			col              int
		)
		if err := rows.Scan(&name, &attr, &kind, &num, &text, &col); err != nil {
			return nil, fmt.Errorf("loading group %s: %w", group, err)
		}
		if kind == markerKind {
			order = append(order, name)
			continue
		}
		var v records.Value
		switch kind {
		case records.KindText.String():
			v = records.Text(text.String)
		default:
			v = records.NumberText(num.Float64, text.String)
		}
		cells[name] = append(cells[name], cell{attr: attr, value: v})
		if prev, ok := colOrder[attr]; !ok || col < prev {
			colOrder[attr] = col
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading group %s: %w", group, err)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: %s", records.ErrGroupNotFound, group)
	}

	columns := make([]string, 0, len(colOrder))
	for attr := range colOrder {
		columns = append(columns, attr)
	}
	sort.Slice(columns, func(i, j int) bool {
		if colOrder[columns[i]] != colOrder[columns[j]] {
			return colOrder[columns[i]] < colOrder[columns[j]]
		}
		return columns[i] < columns[j]
	})

	t := records.NewTable(group, columns...)
	for _, name := range order {
		attrs := make(map[string]records.Value, len(cells[name]))
		for _, c := range cells[name] {
			attrs[c.attr] = c.value
		}
		if err := t.AddRow(name, attrs); err != nil {
			return nil, fmt.Errorf("loading group %s: %w", group, err)
		}
	}
	return t, nil
}

func (s *Store) Commit(ctx context.Context, table *records.Table) error {
	return s.CommitBatch(ctx, []*records.Table{table})
}

// CommitBatch replaces every given group inside one transaction.
func (s *Store) CommitBatch(ctx context.Context, tables []*records.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tables {
		if err := s.replaceGroup(ctx, tx, t); err != nil {
			return fmt.Errorf("committing group %s: %w", t.Group, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) replaceGroup(ctx context.Context, tx *sql.Tx, t *records.Table) error {
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM building_records WHERE record_group = ?`), string(t.Group)); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO building_records
			(record_group, building_name, attribute, value_kind, num_value, text_value, row_order, column_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for ri, row := range t.Rows {
		if _, err := stmt.ExecContext(ctx, string(t.Group), row.Name, "", markerKind, nil, nil, ri, -1); err != nil {
			return fmt.Errorf("building %s: %w", row.Name, err)
		}
		for ci, col := range t.Columns {
			v, ok := row.Attrs[col]
			if !ok {
				continue
			}
			var num interface{}
			if f, isNum := v.Float(); isNum {
				num = f
			}
			text := v.String()
			if _, err := stmt.ExecContext(ctx, string(t.Group), row.Name, col, v.Kind().String(), num, text, ri, ci); err != nil {
				return fmt.Errorf("building %s attribute %s: %w", row.Name, col, err)
			}
		}
	}
	return nil
}

// Groups lists the groups that currently hold at least one building.
func (s *Store) Groups(ctx context.Context) ([]records.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT record_group FROM building_records ORDER BY record_group`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()
	var out []records.Group
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, records.Group(g))
	}
	return out, rows.Err()
}
