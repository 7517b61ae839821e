package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCasesLegacyCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Read cases in the old tracker vocabulary",
		Long: `Read cases through the compatibility facade used by callers of the old
in-memory tracker. Statuses are translated (SAFE is FINISHED, VIOLATED is
FAILED, UNKNOWN reads as NONE). Output is always JSON.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <site> <torrent-id>",
		Short: "Show one case as the old tracker record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.legacy.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no case for %s/%s", args[0], args[1])
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "active <site>",
		Short: "List a site's live obligations as old tracker records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			recs, err := a.legacy.ListActiveForSite(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		},
	})

	return cmd
}
