package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCleanupCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete resolved cases older than the retention horizon",
		Long: `Run one retention sweep: delete SAFE and NONE cases whose resolution is
older than --retention-days (default 30). ACTIVE, VIOLATED and UNKNOWN
cases are never deleted.`,
		Example: `  hrguard cleanup --retention-days 90`,
		Args:    cobra.NoArgs,
		PreRunE: bindLocalFlags(v),
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.cases.CleanupOldCases(cmd.Context(), v.GetInt(keyRetentionDays))
			if err != nil {
				return err
			}
			if v.GetBool(keyJSON) {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"deleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d resolved cases\n", n)
			return nil
		},
	}

	cmd.Flags().Int(keyRetentionDays, 0, "retention horizon in days")

	return cmd
}
