package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

var (
	scrapeMode string
	scrapeFrom string
	scrapeTo   string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <source-code>",
	Short: "Run the scrape pipeline for one source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mode := model.RunMode(scrapeMode)
		var rng *model.DateRange
		if mode == model.ModeHistorical {
			r, err := parseDateRange(scrapeFrom, scrapeTo)
			if err != nil {
				return err
			}
			rng = r
		}

		run, err := env.Coordinator.Execute(ctx, args[0], mode, rng)
		if err != nil {
			return eris.Wrapf(err, "scrape %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed", run.ID)
		}
		return nil
	},
}

func parseDateRange(from, to string) (*model.DateRange, error) {
	if from == "" || to == "" {
		return nil, eris.New("historical mode requires --from and --to (YYYY-MM-DD)")
	}
	f, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, eris.Wrap(err, "parse --from")
	}
	t, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, eris.Wrap(err, "parse --to")
	}
	if t.Before(f) {
		return nil, eris.New("--to precedes --from")
	}
	return &model.DateRange{From: f, To: t}, nil
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeMode, "mode", "current", "run mode: current or historical")
	scrapeCmd.Flags().StringVar(&scrapeFrom, "from", "", "historical range start (YYYY-MM-DD)")
	scrapeCmd.Flags().StringVar(&scrapeTo, "to", "", "historical range end (YYYY-MM-DD)")
	rootCmd.AddCommand(scrapeCmd)
}
