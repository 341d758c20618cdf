package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demand.sensitivity/internal/config"
	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
	"github.com/banshee-data/demand.sensitivity/internal/records"
)

func newImportRecordsCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "import-records",
		Short: "Copy building records from CSV files into the sqlite or postgres store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.GetStore() == config.StoreCSV {
				return fmt.Errorf("store is csv; set store to sqlite or postgres to import")
			}
			if from == "" {
				from = cfg.GetRecordsDir()
			}

			ledgerDB, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer ledgerDB.Close()
			dst, closer, err := openRecords(cmd.Context(), cfg, ledgerDB)
			if err != nil {
				return err
			}
			defer closer.Close()

			src := records.NewCSVStore(fsutil.OSFileSystem{}, from)
			copied, err := records.Copy(cmd.Context(), dst, src, records.Groups...)
			if err != nil {
				return err
			}
			if len(copied) == 0 {
				return fmt.Errorf("no record files found in %s", from)
			}
			monitoring.Opsf("imported %v from %s into the %s store", copied, from, cfg.GetStore())
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d groups\n", len(copied))
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Directory with the CSV record files (default: records_dir)")
	return cmd
}
