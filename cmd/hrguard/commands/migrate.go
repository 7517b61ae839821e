package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long: `Apply the embedded schema migrations to the configured SQLite database.

Every other command that touches the database also migrates on start, so
this is mostly useful to prepare a database ahead of deployment.`,
		Example: `  hrguard migrate --database /var/lib/hrguard/hrguard.db`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info().Str("database", v.GetString(keyDatabase)).Msg("Database schema is up to date")
			return nil
		},
	}
}
