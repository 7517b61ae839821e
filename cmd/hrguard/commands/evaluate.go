package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrguard/hrguard/pkg/policy"
)

// errNotAllowed is returned with --exit-code when any decision is not ALLOW.
var errNotAllowed = errors.New("one or more actions are not allowed")

func newEvaluateCommand(v *viper.Viper) *cobra.Command {
	var (
		c        policy.Context
		action   string
		trigger  string
		file     string
		exitCode bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Decide whether proposed actions are HR-safe",
		Long: `Evaluate one action given by flags, or a batch of actions read from a JSON
file, against the current cases and settings.

When no case is supplied the engine looks it up in the case store. The
engine never fails: internal errors produce ALLOW with reason ERROR_OCCURRED
and confidence 0.5.

Actions: download, delete, move, upload_cleanup, generate_strm, scrape_metadata`,
		Example: `  # Single action
  hrguard evaluate --action delete --site hdsky --torrent 123456

  # A move that would change the seeding path
  hrguard evaluate --action move --site hdsky --torrent 123456 \
      --from /data/seed --to /data/library --changes-seeding-path

  # Batch from a file (JSON array of contexts), "-" reads stdin
  hrguard evaluate --file contexts.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var contexts []*policy.Context
			if file != "" {
				var err error
				contexts, err = readContexts(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
			} else {
				if action == "" || c.SiteKey == "" || c.TorrentID == "" {
					return fmt.Errorf("--action, --site and --torrent are required without --file")
				}
				c.Action = policy.Action(action)
				c.Trigger = policy.Trigger(trigger)
				contexts = []*policy.Context{&c}
			}

			a, err := openApp(cmd.Context(), v, true)
			if err != nil {
				return err
			}
			defer a.Close()

			decisions := a.engine.BatchEvaluate(cmd.Context(), contexts)

			if v.GetBool(keyJSON) {
				if file == "" {
					err = writeJSON(cmd.OutOrStdout(), decisions[0])
				} else {
					err = writeJSON(cmd.OutOrStdout(), decisions)
				}
			} else {
				err = printDecisions(cmd.OutOrStdout(), contexts, decisions)
			}
			if err != nil {
				return err
			}

			if exitCode {
				for _, d := range decisions {
					if !d.Allowed() {
						return errNotAllowed
					}
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&action, "action", "", "proposed action")
	f.StringVar(&c.SiteKey, "site", "", "site key")
	f.StringVar(&c.TorrentID, "torrent", "", "torrent id on the site")
	f.StringVar(&trigger, "trigger", string(policy.TriggerUser), "who proposes the action (user, runner)")
	f.StringVar(&c.SubscriptionID, "subscription", "", "subscription that produced the torrent")
	f.StringVar(&c.PathFrom, "from", "", "move source path")
	f.StringVar(&c.PathTo, "to", "", "move destination path")
	f.BoolVar(&c.ChangesSeedingPath, "changes-seeding-path", false, "the move changes the path the client seeds from")
	f.StringVarP(&file, "file", "f", "", "JSON file with an array of contexts")
	f.BoolVar(&exitCode, "exit-code", false, "exit non-zero unless every decision is ALLOW")

	return cmd
}

func readContexts(stdin io.Reader, path string) ([]*policy.Context, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var contexts []*policy.Context
	if err := json.NewDecoder(r).Decode(&contexts); err != nil {
		return nil, fmt.Errorf("failed to decode contexts: %w", err)
	}
	for _, c := range contexts {
		if c != nil && c.Trigger == "" {
			c.Trigger = policy.TriggerUser
		}
	}
	return contexts, nil
}
