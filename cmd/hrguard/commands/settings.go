package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hrguard/hrguard/pkg/config"
)

func newSettingsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Validate and inspect policy settings",
	}

	cmd.AddCommand(newSettingsValidateCommand())
	cmd.AddCommand(newSettingsShowCommand(v))

	return cmd
}

func newSettingsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a settings file",
		Long: `Validate a YAML or CUE settings file.

This command checks:
  - syntax of the file
  - schema conformance (CUE files are unified with the built-in schema)
  - field constraints (modes, sensitivities, non-negative thresholds)
  - site catalog ids are positive`,
		Example: `  hrguard settings validate settings.yaml
  hrguard settings validate settings.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := config.NewParser()
			if err != nil {
				return err
			}

			s, err := parser.LoadFile(args[0])
			if err != nil {
				var perr *config.ParseError
				if errors.As(err, &perr) {
					for _, e := range perr.Errors {
						fmt.Fprintln(cmd.ErrOrStderr(), "  "+denyColor.Sprint("✗")+" "+e.String())
					}
				}
				return fmt.Errorf("%s is invalid: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid (%d sites, %d subscriptions, %d catalog ids)\n",
				allowColor.Sprint("✓"), args[0], len(s.Sites), len(s.Subscriptions), len(s.SiteIDs))
			return nil
		},
	}
}

func newSettingsShowCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Long:  `Print the settings the engine would use: the --settings file merged over the built-in defaults.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := config.Default()
			if path := v.GetString(keySettings); path != "" {
				parser, err := config.NewParser()
				if err != nil {
					return err
				}
				if s, err = parser.LoadFile(path); err != nil {
					return err
				}
			}

			if v.GetBool(keyJSON) {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(s)
		},
	}
}
