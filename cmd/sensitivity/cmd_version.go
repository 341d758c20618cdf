package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/db"
	"github.com/banshee-data/demand.sensitivity/internal/version"
)

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"version":        version.Version,
					"git_sha":        version.GitSHA,
					"build_time":     version.BuildTime,
					"schema_version": db.LatestVersion,
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sensitivity %s (schema v%d)\n", version.String(), db.LatestVersion)
			return err
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
