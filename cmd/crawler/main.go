// Command crawler collects product prices from a list of Coupang URLs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	ConfigDir  string
	Debug      bool
	StatusAddr string
	NoProgress bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "crawler",
		Short:         "Coupang price crawler",
		Long:          "Batch crawler for Coupang product pages with checkpointed resume, block detection and a recrawl pass.",
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigDir, "config-dir", "config", "Directory holding crawler_config.json and selectors.json")
	rootCmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.StatusAddr, "status-addr", "", "Serve /health and /status on this address (overrides STATUS_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress bar")

	rootCmd.AddCommand(newCrawlCmd(opts))
	rootCmd.AddCommand(newValidateCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newInspectCmd(opts))
	rootCmd.AddCommand(newEventsCmd(opts))

	return rootCmd.Execute()
}
