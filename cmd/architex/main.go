// Command architex runs the knowledge hub API and its maintenance tasks.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "architex",
		Short: "Architecture knowledge hub",
		Long: `Architex stores reusable architecture knowledge (patterns, best practices,
guidelines, templates and case studies), the relationships between them,
and usage analytics, behind an authenticated REST API.

Configuration comes from an optional YAML file (--config) overlaid with
ARCHITEX_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newImportCmd(opts),
		newTokenCmd(opts),
		newBackupCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
