package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/config"
	"github.com/banshee-data/demand.sensitivity/internal/db"
	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
	"github.com/banshee-data/demand.sensitivity/internal/records"
	"github.com/banshee-data/demand.sensitivity/internal/records/sqlstore"
	"github.com/banshee-data/demand.sensitivity/internal/runstore"
	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

// loadConfig reads --config (if given), applies SENSITIVITY_* variables
// and the --project flag, then validates the result.
func loadConfig(cmd *cobra.Command) (*config.SensitivityConfig, error) {
	cfg := &config.SensitivityConfig{}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		cfg.Project = &project
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLedger opens (and migrates) the sqlite database holding the run
// ledger.
func openLedger(cfg *config.SensitivityConfig) (*db.DB, error) {
	path := cfg.GetDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return db.Open(path)
}

// openRecords returns the building record store selected by the config.
// The sqlite store shares the ledger database.
func openRecords(ctx context.Context, cfg *config.SensitivityConfig, ledger *db.DB) (records.Store, io.Closer, error) {
	switch cfg.GetStore() {
	case config.StoreSQLite:
		return sqlstore.New(ledger.DB, sqlstore.SQLite), nopCloser{}, nil
	case config.StorePostgres:
		store, sqlDB, err := sqlstore.OpenPostgres(ctx, cfg.GetPostgresDSN())
		if err != nil {
			return nil, nil, err
		}
		return store, sqlDB, nil
	default:
		dir := cfg.GetRecordsDir()
		monitoring.Diagf("building records from %s", dir)
		return records.NewCSVStore(fsutil.OSFileSystem{}, dir), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openReplayLedger opens the ledger without creating a fresh database.
func openReplayLedger(cfg *config.SensitivityConfig) (*db.DB, *runstore.Store, error) {
	path := cfg.GetDBPath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("run ledger %s: %w", path, err)
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return d, runstore.NewStore(d.DB), nil
}

// tableWithOverrides applies --param flags to the configured table: a flag
// naming an existing parameter replaces it, others are appended.
func tableWithOverrides(cfg *config.SensitivityConfig, flags []string) (sensitivity.DistributionTable, error) {
	table, err := cfg.DistributionTable()
	if err != nil {
		return nil, err
	}
	for _, f := range flags {
		p, err := sensitivity.ParseParamSpec(f)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i := range table {
			if table[i].Name == p.Name {
				table[i] = p
				replaced = true
			}
		}
		if !replaced {
			table = append(table, p)
		}
	}
	return table, table.Validate()
}
