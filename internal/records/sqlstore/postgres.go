package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS building_records (
    record_group   TEXT NOT NULL,
    building_name  TEXT NOT NULL,
    attribute      TEXT NOT NULL,
    value_kind     TEXT NOT NULL,
    num_value      DOUBLE PRECISION,
    text_value     TEXT,
    row_order      INTEGER NOT NULL,
    column_order   INTEGER NOT NULL,
    PRIMARY KEY (record_group, building_name, attribute)
);
`

// OpenPostgres connects through the pgx driver and ensures the record table
// exists. The caller closes the returned *sql.DB.
func OpenPostgres(ctx context.Context, dsn string) (*Store, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return New(db, Postgres), db, nil
}
