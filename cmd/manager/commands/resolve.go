package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/config"
)

func newResolveCommand() *cobra.Command {
	var (
		tenant     string
		dslVersion string
	)

	cmd := &cobra.Command{
		Use:   "resolve <import-url>",
		Short: "Resolve one import URL and print the document",
		Long: `Resolve a single import URL against the local catalog and, when needed,
the marketplace, then print the resolved document to stdout.

Useful for checking what a blueprint import will expand to before
uploading the blueprint.`,
		Example: `  # Resolve a plugin import with a version range
  manager resolve "plugin:cloudify-openstack-plugin?version=>=3.0,<4.0"

  # Resolve for a specific tenant and DSL version
  manager resolve --tenant team_a --dsl-version 1_5 plugin:cloudify-aws-plugin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
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

			doc, err := res.ResolveImport(ctx, tenant, args[0], dslVersion)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(os.Stdout, string(doc))
			return err
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default_tenant", "tenant to resolve for")
	cmd.Flags().StringVar(&dslVersion, "dsl-version", "", "DSL version used to pick the plugin document variant")

	return cmd
}
