package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oddlyrohit/councilscraper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "councilscraper",
	Short: "Council planning-application scrape pipeline",
	Long:  "Scrapes development applications from council planning portals, learns field mappings via Claude, normalizes and deduplicates records, and tracks data quality per source.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
