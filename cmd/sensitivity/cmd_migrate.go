package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/db"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ledger database schema",
	}

	withDB := func(fn func(cmd *cobra.Command, d *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.GetDBPath()
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
			d, err := db.OpenNoMigrate(path)
			if err != nil {
				return err
			}
			defer d.Close()
			return fn(cmd, d, args)
		}
	}

	printVersion := func(cmd *cobra.Command, d *db.DB) error {
		v, dirty, err := d.MigrateVersion()
		if err != nil {
			return err
		}
		state := "clean"
		if dirty {
			state = "dirty"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d of %d (%s)\n", d.Path(), v, db.LatestVersion, state)
		return err
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				if err := d.MigrateUp(); err != nil {
					return err
				}
				return printVersion(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				if err := d.MigrateDown(); err != nil {
					return err
				}
				return printVersion(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				return printVersion(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations (clears the dirty flag)",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := d.MigrateForce(v); err != nil {
					return err
				}
				return printVersion(cmd, d)
			}),
		},
	)
	return cmd
}
