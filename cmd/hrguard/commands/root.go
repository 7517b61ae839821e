package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/scheduler"
)

// Process configuration keys. Each is settable by flag, by HRGUARD_<KEY>
// with dashes replaced by underscores, or in hrguard.yaml.
const (
	keyConfig              = "config"
	keyDatabase            = "database"
	keySettings            = "settings"
	keyPolicies            = "policies"
	keyLogLevel            = "log-level"
	keyLogFormat           = "log-format"
	keyJSON                = "json"
	keyCacheSize           = "cache-size"
	keyCacheTTL            = "cache-ttl"
	keyMetricsEnabled      = "metrics-enabled"
	keyMetricsAddress      = "metrics-address"
	keyTracingExporter     = "tracing-exporter"
	keyTracingEndpoint     = "tracing-endpoint"
	keyConsistencySchedule = "consistency-schedule"
	keyRetentionSchedule   = "retention-schedule"
	keyRetentionDays       = "retention-days"
	keyConcurrency         = "concurrency"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(viper.New(), version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(v *viper.Viper, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hrguard",
		Short: "hrguard - Hit-and-Run case tracking and safety policy",
		Long: `hrguard keeps the authoritative record of each torrent's Hit-and-Run (HR)
seeding obligation and decides whether a proposed download, delete, move or
cleanup may proceed without violating it.

Features:
  - SQLite case store with a process cache and consistency auditing
  - Ordered, fail-open safety rules with per-site and per-subscription settings
  - Operator-supplied Rego policies evaluated after the built-in rules
  - YAML or CUE settings with hot reload
  - Scheduled consistency and retention sweeps
  - Prometheus metrics and OpenTelemetry tracing`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "process config file (default ./hrguard.yaml)")
	flags.String(keyDatabase, "hrguard.db", "SQLite database path")
	flags.String(keySettings, "", "policy settings file (.yaml, .yml or .cue)")
	flags.StringSlice(keyPolicies, nil, "operator Rego policy files or directories")
	flags.String(keyLogLevel, "info", "log level (trace, debug, info, warn, error)")
	flags.String(keyLogFormat, "console", "log format (console, json)")
	flags.Bool(keyJSON, false, "output in JSON format")
	flags.Int(keyCacheSize, 0, "maximum cached cases (0 = unbounded)")
	flags.Duration(keyCacheTTL, 0, "cache entry lifetime (0 = no expiry)")
	flags.String(keyTracingExporter, "none", "trace exporter (otlp, stdout, none)")
	flags.String(keyTracingEndpoint, "localhost:4317", "OTLP collector endpoint")
	flags.Int(keyConcurrency, 0, "batch evaluation parallelism (0 = GOMAXPROCS)")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(newMigrateCommand(v))
	rootCmd.AddCommand(newCasesCommand(v))
	rootCmd.AddCommand(newEvaluateCommand(v))
	rootCmd.AddCommand(newAuditCommand(v))
	rootCmd.AddCommand(newCleanupCommand(v))
	rootCmd.AddCommand(newServeCommand(v))
	rootCmd.AddCommand(newSettingsCommand(v))

	return rootCmd
}

// bindLocalFlags binds the running command's own flags into v. Binding in
// PreRunE keeps flags shared by several subcommands from overriding each other.
func bindLocalFlags(v *viper.Viper) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		return v.BindPFlags(cmd.LocalNonPersistentFlags())
	}
}

// initConfig merges defaults, the optional config file, HRGUARD_* variables
// and flags into v.
func initConfig(v *viper.Viper) error {
	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("hrguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/hrguard")
	}

	v.SetEnvPrefix("HRGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyMetricsEnabled, true)
	v.SetDefault(keyMetricsAddress, ":9464")
	v.SetDefault(keyConsistencySchedule, scheduler.DefaultConsistencySchedule)
	v.SetDefault(keyRetentionSchedule, scheduler.DefaultRetentionSchedule)
	v.SetDefault(keyRetentionDays, cases.DefaultRetentionDays)
	v.SetDefault(keyCacheTTL, time.Duration(0))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
