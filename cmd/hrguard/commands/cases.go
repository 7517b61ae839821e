package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrguard/hrguard/pkg/hr"
	"github.com/hrguard/hrguard/pkg/stores"
)

func newCasesCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect and update HR cases",
		Long: `Inspect and update the authoritative HR case records.

Each (site, torrent) pair has at most one case. Mutations are written to the
database first and only then to the process cache.`,
	}

	cmd.AddCommand(newCasesGetCommand(v))
	cmd.AddCommand(newCasesListCommand(v))
	cmd.AddCommand(newCasesActiveCommand(v))
	cmd.AddCommand(newCasesStatsCommand(v))
	cmd.AddCommand(newCasesObserveCommand(v))
	cmd.AddCommand(newCasesMarkSafeCommand(v))
	cmd.AddCommand(newCasesMarkCommand(v, "mark-penalized", "Record a penalty (creates a VIOLATED case if missing)"))
	cmd.AddCommand(newCasesMarkCommand(v, "mark-deleted", "Record that the torrent was removed upstream"))
	cmd.AddCommand(newCasesMarkCommand(v, "record-notice", "Record that a warning email was received"))
	cmd.AddCommand(newCasesLegacyCommand(v))

	return cmd
}

func keyArgs(args []string) hr.Key {
	return hr.Key{SiteKey: args[0], TorrentID: args[1]}
}

// showCase prints rec as JSON or text depending on --json.
func showCase(cmd *cobra.Command, v *viper.Viper, rec *hr.CaseRecord) error {
	if v.GetBool(keyJSON) {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	printCase(cmd.OutOrStdout(), rec, time.Now())
	return nil
}

func showCases(cmd *cobra.Command, v *viper.Viper, records []*hr.CaseRecord) error {
	if v.GetBool(keyJSON) {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	return printCases(cmd.OutOrStdout(), records, time.Now())
}

func newCasesGetCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "get <site> <torrent-id>",
		Short:   "Show one case",
		Example: `  hrguard cases get hdsky 123456`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.cases.Get(cmd.Context(), keyArgs(args))
			if hr.IsNotFound(err) {
				return fmt.Errorf("no case for %s", keyArgs(args))
			}
			if err != nil {
				return err
			}
			return showCase(cmd, v, rec)
		},
	}
}

func newCasesListCommand(v *viper.Viper) *cobra.Command {
	var (
		status string
		site   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases by status or site",
		Example: `  # ACTIVE cases across all sites
  hrguard cases list --status ACTIVE

  # Everything for one site
  hrguard cases list --site hdsky --limit 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (status == "") == (site == "") {
				return fmt.Errorf("exactly one of --status or --site is required")
			}

			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var records []*hr.CaseRecord
			if status != "" {
				st, perr := hr.ParseStatus(status)
				if perr != nil {
					return perr
				}
				records, err = a.cases.ListByStatus(cmd.Context(), st, limit)
			} else {
				records, err = a.cases.ListBySite(cmd.Context(), site, limit)
			}
			if err != nil {
				return err
			}
			return showCases(cmd, v, records)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (NONE, ACTIVE, SAFE, VIOLATED, UNKNOWN)")
	cmd.Flags().StringVar(&site, "site", "", "filter by site key")
	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "maximum rows")

	return cmd
}

func newCasesActiveCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:     "active <site>",
		Short:   "List live HR obligations for a site",
		Long:    `List cases that are ACTIVE and whose torrent is still ALIVE, for one site.`,
		Example: `  hrguard cases active hdsky`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.cases.ListActiveForSite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return showCases(cmd, v, records)
		},
	}
}

func newCasesStatsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show case counts by status and site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.cases.GetStatistics(cmd.Context())
			if err != nil {
				return err
			}
			if v.GetBool(keyJSON) {
				return writeJSON(cmd.OutOrStdout(), stats)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Total cases: %d\n", stats.Total)
			for _, st := range []hr.Status{hr.StatusActive, hr.StatusViolated, hr.StatusSafe, hr.StatusNone, hr.StatusUnknown} {
				fmt.Fprintf(w, "  %-10s %d\n", st, stats.ByStatus[st])
			}
			for site, n := range stats.BySite {
				fmt.Fprintf(w, "  site %-15s %d\n", site, n)
			}
			return nil
		},
	}
}

func newCasesObserveCommand(v *viper.Viper) *cobra.Command {
	var (
		status        string
		infoHash      string
		reqRatio      float64
		requiredHours float64
		seededHours   float64
		currentRatio  float64
		deadline      string
	)

	cmd := &cobra.Command{
		Use:   "observe <site> <torrent-id>",
		Short: "Record an upstream HR observation",
		Long: `Create or update a case from an upstream observation.

Only flags that are given change the stored values. The status defaults to
ACTIVE because an observation reports a live obligation.`,
		Example: `  hrguard cases observe hdsky 123456 --required-hours 72 --seeded-hours 10 \
      --deadline 2026-10-20T00:00:00Z`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := keyArgs(args)
			obs := &hr.Observation{SiteKey: key.SiteKey, TorrentID: key.TorrentID, InfoHash: infoHash}

			if status != "" {
				st, err := hr.ParseStatus(status)
				if err != nil {
					return err
				}
				obs.Status = st
			}
			flags := cmd.Flags()
			if flags.Changed("requirement-ratio") {
				obs.RequirementRatio = hr.Float(reqRatio)
			}
			if flags.Changed("required-hours") {
				obs.RequiredHours = hr.Float(requiredHours)
			}
			if flags.Changed("seeded-hours") {
				obs.SeededHours = hr.Float(seededHours)
			}
			if flags.Changed("current-ratio") {
				obs.CurrentRatio = hr.Float(currentRatio)
			}
			if deadline != "" {
				t, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("invalid --deadline: %w", err)
				}
				obs.Deadline = hr.Time(t.UTC())
			}

			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.cases.Upsert(cmd.Context(), obs)
			if err != nil {
				return err
			}
			return showCase(cmd, v, rec)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "case status (default ACTIVE)")
	cmd.Flags().StringVar(&infoHash, "infohash", "", "torrent infohash")
	cmd.Flags().Float64Var(&reqRatio, "requirement-ratio", 0, "required share ratio")
	cmd.Flags().Float64Var(&requiredHours, "required-hours", 0, "required seeding hours")
	cmd.Flags().Float64Var(&seededHours, "seeded-hours", 0, "hours seeded so far")
	cmd.Flags().Float64Var(&currentRatio, "current-ratio", 0, "current share ratio")
	cmd.Flags().StringVar(&deadline, "deadline", "", "obligation deadline (RFC3339)")

	return cmd
}

func newCasesMarkSafeCommand(v *viper.Viper) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:     "mark-safe <site> <torrent-id>",
		Short:   "Mark an existing case as satisfied",
		Example: `  hrguard cases mark-safe hdsky 123456 --reason "site shows obligation met"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.cases.MarkSafe(cmd.Context(), keyArgs(args), reason)
			if hr.IsNotFound(err) {
				return fmt.Errorf("no case for %s", keyArgs(args))
			}
			if err != nil {
				return err
			}
			return showCase(cmd, v, rec)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "note appended to the case")
	return cmd
}

// newCasesMarkCommand builds the single-key mutations that take no options.
func newCasesMarkCommand(v *viper.Viper, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <site> <torrent-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var rec *hr.CaseRecord
			switch use {
			case "mark-penalized":
				rec, err = a.cases.MarkPenalized(cmd.Context(), keyArgs(args))
			case "mark-deleted":
				rec, err = a.cases.MarkDeleted(cmd.Context(), keyArgs(args))
			default:
				rec, err = a.cases.RecordEmailNotice(cmd.Context(), keyArgs(args))
			}
			if hr.IsNotFound(err) {
				return fmt.Errorf("no case for %s", keyArgs(args))
			}
			if err != nil {
				return err
			}
			return showCase(cmd, v, rec)
		},
	}
}
