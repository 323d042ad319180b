// Package cli defines the graphgate command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// version is set by goreleaser ldflags.
	version = "dev"

	// configPath is the --config flag value shared by all commands.
	configPath string

	// verbose enables debug logging.
	verbose bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "graphgate",
	Short: "Outlook integration gateway for Microsoft Graph",
	Long: `Graphgate keeps delegated Microsoft Graph access tokens valid so API
callers never handle OAuth themselves: it drives the authorization-code +
PKCE flow, caches tokens per account, and refreshes them before expiry.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string for the CLI.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "graphgate.toml", "path to the TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose debug output")
}
