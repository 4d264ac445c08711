package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahmadiesa-abu/cloudify-manager/pkg/catalog"
	"github.com/ahmadiesa-abu/cloudify-manager/pkg/config"
)

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin catalog",
	}
	cmd.AddCommand(newPluginsListCommand())
	return cmd
}

func newPluginsListCommand() *cobra.Command {
	var (
		tenant       string
		packageName  string
		distribution string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins in the catalog",
		Example: `  # List every plugin of the default tenant
  manager plugins list

  # List one package's versions as JSON
  manager plugins list --package cloudify-openstack-plugin --json`,
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

			plugins, err := store.ListPlugins(ctx, tenant, catalog.PluginFilter{
				PackageName:  packageName,
				Distribution: distribution,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plugins)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPACKAGE\tVERSION\tDISTRIBUTION\tUPLOADED")
			for _, p := range plugins {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.PackageName, p.PackageVersion, p.Distribution,
					p.UploadedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "default_tenant", "tenant to list")
	cmd.Flags().StringVar(&packageName, "package", "", "filter by package name")
	cmd.Flags().StringVar(&distribution, "distribution", "", "filter by distribution")

	return cmd
}
