package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/config"
	"github.com/hrguard/hrguard/pkg/scheduler"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance daemon",
		Long: `Run hrguard as a long-lived process:

  - warms the case cache from the database
  - runs the consistency sweep and retention sweep on cron schedules
  - reloads the settings file when it changes
  - exposes Prometheus metrics

An inconsistency found by a sweep is logged as an ALERT and counted in the
hrguard_consistency_mismatches gauge.`,
		Example: `  hrguard serve --settings /etc/hrguard/settings.yaml \
      --consistency-schedule "*/10 * * * *" --retention-days 60`,
		Args:    cobra.NoArgs,
		PreRunE: bindLocalFlags(v),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.cases.WarmCache(ctx)
			if err != nil {
				return err
			}
			a.logger.Info().Int("cases", n).Msg("Case cache warmed")

			if srv := a.telemetry.Metrics.StartMetricsServer(a.logger); srv != nil {
				a.logger.Info().Str("addr", srv.Addr).Msg("Metrics server listening")
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if path := v.GetString(keySettings); path != "" {
				w := config.NewWatcher(path, a.parser, a.settings, a.logger)
				go func() {
					if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error().Err(err).Msg("Settings watcher stopped")
					}
				}()
			}

			sched := scheduler.New(a.cases, scheduler.Config{
				ConsistencySchedule: v.GetString(keyConsistencySchedule),
				RetentionSchedule:   v.GetString(keyRetentionSchedule),
				RetentionDays:       v.GetInt(keyRetentionDays),
			}, a.logger)
			if v.GetBool("auto-repair") {
				sched.OnAlert(func(r *cases.Report) {
					// Repair diverged keys so the next sweep reports only new drift.
					for _, key := range r.MismatchedKeys {
						if _, err := a.cases.Resync(ctx, key); err != nil {
							a.logger.Error().Err(err).Str("key", key.String()).Msg("Resync failed")
						}
					}
				})
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			if next := sched.NextRun(); next != nil {
				a.logger.Info().Time("next_run", *next).Msg("hrguard is running")
			}

			<-ctx.Done()
			sched.Stop()
			a.logger.Info().Msg("Shutting down")
			return nil
		},
	}

	f := cmd.Flags()
	f.Bool(keyMetricsEnabled, true, "expose Prometheus metrics")
	f.String(keyMetricsAddress, ":9464", "metrics listen address")
	f.String(keyConsistencySchedule, scheduler.DefaultConsistencySchedule, "cron schedule for the consistency sweep (empty disables)")
	f.String(keyRetentionSchedule, scheduler.DefaultRetentionSchedule, "cron schedule for the retention sweep (empty disables)")
	f.Int(keyRetentionDays, cases.DefaultRetentionDays, "retention horizon in days")
	f.Bool("auto-repair", false, "resync mismatched keys after each alerting sweep")

	return cmd
}
