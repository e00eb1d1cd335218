package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
)

var scheduleTier int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scrape scheduler until interrupted",
	Long:  "Ticks on the configured interval, dispatching each source on its tier cadence with a deterministic stagger. At most one run per source is active at a time.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if scheduleTier > 0 {
			dispatched := env.Scheduler.DispatchTier(ctx, scheduleTier, model.ModeCurrent)
			zap.L().Info("tier dispatched",
				zap.Int("tier", scheduleTier),
				zap.Strings("sources", dispatched))
			env.Scheduler.Wait()
			logEscalatedSources(env.Proxies)
			return nil
		}

		if err := env.Scheduler.Loop(ctx); err != nil && !isShutdown(err) {
			return err
		}
		logEscalatedSources(env.Proxies)
		zap.L().Info("scheduler stopped")
		return nil
	},
}

// logEscalatedSources records any source that ended the session above the
// base proxy tier, so escalations survive in the logs after shutdown.
func logEscalatedSources(m *proxy.Manager) {
	for code, st := range m.Snapshot() {
		if st.Tier > proxy.TierBase {
			zap.L().Warn("source ending above base proxy tier",
				zap.String("source", code),
				zap.String("tier", st.Tier.String()),
				zap.Time("last_transition", st.LastTransition))
		}
	}
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func init() {
	scheduleCmd.Flags().IntVar(&scheduleTier, "tier", 0, "dispatch every source in one tier once and exit (0 = run the loop)")
	rootCmd.AddCommand(scheduleCmd)
}
