package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/hrguard/hrguard/pkg/cache"
	"github.com/hrguard/hrguard/pkg/cases"
	"github.com/hrguard/hrguard/pkg/config"
	"github.com/hrguard/hrguard/pkg/legacy"
	"github.com/hrguard/hrguard/pkg/policy"
	"github.com/hrguard/hrguard/pkg/stores"
	"github.com/hrguard/hrguard/pkg/telemetry"
)

// app is the composition root. Exactly one engine and one case store are
// built per process and shared by every command.
type app struct {
	v         *viper.Viper
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	db        *stores.SQLiteStore
	cache     *cache.CaseCache
	settings  *config.Store
	parser    *config.Parser
	cases     *cases.Store
	legacy    *legacy.Facade
	engine    *policy.Engine
}

func telemetryConfig(v *viper.Viper) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = v.GetString(keyLogLevel)
	cfg.Logging.Format = v.GetString(keyLogFormat)
	cfg.Metrics.Enabled = v.GetBool(keyMetricsEnabled)
	cfg.Metrics.ListenAddress = v.GetString(keyMetricsAddress)
	if exp := v.GetString(keyTracingExporter); exp != "" && exp != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exp
		cfg.Tracing.Endpoint = v.GetString(keyTracingEndpoint)
	}
	return cfg
}

// openApp wires telemetry, storage, settings, the case store and the engine.
// migrate controls whether pending schema migrations are applied first.
func openApp(ctx context.Context, v *viper.Viper, migrate bool) (*app, error) {
	tel, err := telemetry.NewTelemetry(telemetryConfig(v))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	log.Logger = logger

	a := &app{v: v, telemetry: tel, logger: logger}

	a.parser, err = config.NewParser()
	if err != nil {
		return nil, fmt.Errorf("failed to build settings parser: %w", err)
	}
	loaded := config.Default()
	if path := v.GetString(keySettings); path != "" {
		loaded, err = a.parser.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings %s: %w", path, err)
		}
	}
	a.settings = config.NewStore(loaded)

	engineOpts := []policy.Option{
		policy.WithLogger(logger),
		policy.WithMetrics(tel.Metrics),
		policy.WithConcurrency(v.GetInt(keyConcurrency)),
	}
	if paths := v.GetStringSlice(keyPolicies); len(paths) > 0 {
		policies, err := policy.LoadRegoPolicies(paths)
		if err != nil {
			return nil, err
		}
		rule, err := policy.NewRegoRule(ctx, policies)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, policy.WithOperatorRules(rule))
		logger.Info().Int("count", len(policies)).Strs("paths", paths).Msg("Operator policies loaded")
	}

	a.db, err = stores.NewSQLiteStore(stores.Config{Path: v.GetString(keyDatabase)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := a.db.Init(ctx); err != nil {
		_ = a.db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if migrate {
		if err := a.db.Migrate(ctx); err != nil {
			_ = a.db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	a.cache = cache.New(cache.Config{
		MaxEntries: v.GetInt(keyCacheSize),
		TTL:        v.GetDuration(keyCacheTTL),
	}, tel.Metrics)

	a.cases = cases.New(a.db, a.cache,
		cases.WithCatalog(a.settings),
		cases.WithLogger(logger),
		cases.WithMetrics(tel.Metrics),
	)
	a.legacy = legacy.NewFacade(a.cases)

	a.engine = policy.NewEngine(a.settings, append(engineOpts,
		policy.WithCaseResolver(a.cases),
		policy.WithRecorder(policy.NewAuditRecorder(a.db)),
	)...)

	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}
