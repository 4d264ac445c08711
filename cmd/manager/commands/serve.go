package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/config"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/server"
)

func newServeCommand() *cobra.Command {
	var listenAddress string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the manager REST API",
		Long: `Run the manager: the artifact catalog, the import resolution engine
and the REST API in one process.

The API serves catalog queries, plugin uploads, blueprint lookups and
on-demand import resolution. Prometheus metrics are exposed on a
separate listener when enabled.`,
		Example: `  # Run with defaults (catalog in ./manager.db)
  manager serve

  # Run with a config file
  manager serve --config /etc/manager/config.yaml

  # Override the API address
  manager serve --listen 0.0.0.0:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddress != "" {
				cfg.Server.ListenAddress = listenAddress
			}

			tel, err := buildTelemetry(cfg, cmd.Root().Version)
			if err != nil {
				return err
			}
			ctx := tel.WithContext(cmd.Context())
			defer tel.Shutdown(context.Background())

			store, err := openCatalog(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, cleanup, err := buildResolver(cfg, store, tel)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			srv := server.New(server.Options{
				Catalog:            store,
				Resolver:           res,
				Telemetry:          tel,
				ListenAddress:      cfg.Server.ListenAddress,
				CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
				ReadTimeout:        cfg.Server.ReadTimeout,
				WriteTimeout:       cfg.Server.WriteTimeout,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen", "", "API listen address (overrides config)")

	return cmd
}
