package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/price-crawler/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			return printConfig(os.Stdout, cfg)
		},
	}
}

// effectiveConfig is what `crawler config` prints. Secrets are omitted.
type effectiveConfig struct {
	Crawler      config.CrawlerConfig `json:"crawler"`
	Selectors    config.Selectors     `json:"selectors"`
	Paths        config.PathsConfig   `json:"paths"`
	Integrations map[string]bool      `json:"integrations"`
}

func printConfig(w io.Writer, cfg *config.Config) error {
	out := effectiveConfig{
		Crawler:   cfg.Crawler,
		Selectors: cfg.Selectors,
		Paths:     cfg.Paths,
		Integrations: map[string]bool{
			"postgres":   cfg.Database.Enabled(),
			"redis":      cfg.Redis.Enabled(),
			"minio":      cfg.Archive.Enabled(),
			"status_api": cfg.Server.Addr != "",
		},
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
