package commands

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errMismatches = errors.New("cache and store are inconsistent")

func newAuditCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Consistency checks and the decision audit trail",
	}

	cmd.AddCommand(newAuditConsistencyCommand(v))
	cmd.AddCommand(newAuditDecisionsCommand(v))

	return cmd
}

func newAuditConsistencyCommand(v *viper.Viper) *cobra.Command {
	var (
		warm   bool
		repair bool
	)

	cmd := &cobra.Command{
		Use:   "consistency",
		Short: "Compare the process cache with the database",
		Long: `Run one consistency sweep. A one-shot process starts with an empty cache,
so --warm (the default) loads every row first; the sweep then verifies
the load and exercises the comparison.

The sweep itself never changes anything. --repair resyncs each mismatched
key from the database after reporting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if warm {
				if _, err := a.cases.WarmCache(ctx); err != nil {
					return err
				}
			}

			report := a.cases.CheckConsistency(ctx)
			if v.GetBool(keyJSON) {
				err = writeJSON(cmd.OutOrStdout(), report)
			} else {
				err = printReport(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}

			if repair {
				for _, key := range report.MismatchedKeys {
					if _, err := a.cases.Resync(ctx, key); err != nil {
						return err
					}
				}
			}

			if report.Failed() {
				return errors.New(report.Error)
			}
			if report.Mismatches > 0 && !repair {
				return errMismatches
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&warm, "warm", true, "load all rows into the cache before checking")
	cmd.Flags().BoolVar(&repair, "repair", false, "resync mismatched keys after reporting")

	return cmd
}

func newAuditDecisionsCommand(v *viper.Viper) *cobra.Command {
	var (
		site    string
		verdict string
		limit   int
		offset  int
	)

	cmd := &cobra.Command{
		Use:     "decisions",
		Short:   "List recorded policy decisions",
		Example: `  hrguard audit decisions --site hdsky --decision DENY --limit 20`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var sitePtr, verdictPtr *string
			if site != "" {
				sitePtr = &site
			}
			if verdict != "" {
				verdictPtr = &verdict
			}

			entries, err := a.db.ListAuditEntries(cmd.Context(), sitePtr, verdictPtr, limit, offset)
			if err != nil {
				return err
			}
			if v.GetBool(keyJSON) {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return printAuditEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&site, "site", "", "filter by site key")
	cmd.Flags().StringVar(&verdict, "decision", "", "filter by decision (ALLOW, DENY, REQUIRE_CONFIRM)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")

	return cmd
}
