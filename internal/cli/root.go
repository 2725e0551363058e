// Package cli provides the command-line interface for the archival
// service: command parsing, configuration loading, and server startup.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

var rootCmd = &cobra.Command{
	Use:   "webarchive",
	Short: "A continuously running web archival service",
	Long: `webarchive crawls the web on demand and stores every fetched page in a
content-addressed archive. Crawls run as resumable sessions with
deduplicated URL frontiers, per-host politeness, and retry handling.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI.
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses WEBARCHIVE_* environment variables)")
	rootCmd.AddCommand(newServeCmd())
}
