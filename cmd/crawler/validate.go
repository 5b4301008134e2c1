package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newValidateCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Recrawl the error rows of an output file",
		Long:  "Back up FILE, recrawl rows with an ERROR or NA critical field and write FILE_validated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), g, args[0])
		},
	}
}

func runValidate(ctx context.Context, g *globalOptions, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("result file not found: %w", err)
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log := newLogger(cfg, g, true)

	ctx, stop := signalContext(ctx)
	defer stop()

	a, err := newApp(ctx, cfg, g, log)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.serveStatus(ctx)()

	report, err := a.validator().Run(ctx, path)
	if err != nil {
		if isInterrupt(err) {
			log.Warn("validation interrupted")
			return nil
		}
		return err
	}
	if report.Blocked {
		log.Warn("validation stopped on block", "validated", report.ValidatedPath, "remaining_errors", report.Remaining)
	}
	return nil
}
