package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "manager",
		Short: "Cloudify Manager - TOSCA import resolution and plugin catalog",
		Long: `The manager resolves symbolic plugin: and blueprint: imports in TOSCA
blueprints against a local artifact catalog, fetching missing plugins
from the external marketplace on demand.

Features:
  - Import resolution with version constraints and pins
  - Per-tenant plugin and blueprint catalog backed by SQLite
  - Marketplace fallback with distribution-aware wagon selection
  - Concurrent-upload coordination
  - REST API for catalog access and on-demand resolution`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newPluginsCommand())

	return rootCmd
}
