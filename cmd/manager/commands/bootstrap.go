package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/config"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/marketplace"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/resolver"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/telemetry"
)

// buildTelemetry maps the manager configuration onto a telemetry stack.
func buildTelemetry(cfg *config.Config, version string) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "cloudify-manager"
	tcfg.ServiceVersion = version
	tcfg.Logging.Level = cfg.Telemetry.LogLevel
	tcfg.Logging.Format = cfg.Telemetry.LogFormat
	tcfg.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsListenAddress != "" {
		tcfg.Metrics.ListenAddress = cfg.Telemetry.MetricsListenAddress
	}
	tcfg.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	tcfg.Tracing.Exporter = cfg.Telemetry.TracingExporter
	tcfg.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint

	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if jsonOutput {
		tcfg.Logging.Format = "json"
	}

	return telemetry.NewTelemetry(tcfg)
}

// openCatalog opens, initializes and migrates the SQLite catalog.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.SQLiteStore, error) {
	store, err := catalog.NewSQLiteStore(catalog.StoreConfig{
		Path:           cfg.Catalog.Path,
		FileServerRoot: cfg.Catalog.FileServerRoot,
		Distribution:   cfg.Catalog.Distribution,
		DistroRelease:  cfg.Catalog.DistroRelease,
		MaxOpenConns:   cfg.Catalog.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}
	return store, nil
}

// buildResolver assembles the import resolution engine on top of the
// catalog. The returned cleanup stops the rules watcher, if any.
func buildResolver(cfg *config.Config, store *catalog.SQLiteStore, tel *telemetry.Telemetry) (*resolver.Resolver, func(), error) {
	var rules resolver.RuleSource
	cleanup := func() {}

	if cfg.Resolver.RulesFile != "" && cfg.Resolver.WatchRules {
		watched, err := config.NewWatchedRules(cfg.Resolver.RulesFile, tel.Logger)
		if err != nil {
			return nil, nil, err
		}
		rules = watched
		cleanup = func() { watched.Close() }
	} else {
		static, err := config.LoadRules(cfg.Resolver.RulesFile)
		if err != nil {
			return nil, nil, err
		}
		rules = resolver.StaticRules(static)
	}

	var market *marketplace.Client
	if cfg.Marketplace.BaseURL != "" {
		market = marketplace.NewClient(cfg.Marketplace.BaseURL,
			&http.Client{Timeout: cfg.Marketplace.Timeout})
	}

	res, err := resolver.New(resolver.Options{
		Catalog:        store,
		Marketplace:    market,
		Rules:          rules,
		FileServerRoot: store.FileServerRoot(),
		PollInterval:   cfg.Resolver.PollInterval,
		PollAttempts:   cfg.Resolver.PollAttempts,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return res, cleanup, nil
}
