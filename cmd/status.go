package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oddlyrohit/councilscraper/internal/monitoring"
)

var statusLookbackHours int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline health over a recent window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snapshot, err := monitoring.NewCollector(st).Collect(ctx, statusLookbackHours)
		if err != nil {
			return eris.Wrap(err, "collect status")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// initStore already migrates; reaching here means the schema is
		// current.
		cmd.Println("Schema up to date.")
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLookbackHours, "hours", 24, "lookback window in hours")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
}
