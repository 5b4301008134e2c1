package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/price-crawler/internal/database"
	"github.com/maltedev/price-crawler/internal/extract"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/retry"
)

func newInspectCmd(g *globalOptions) *cobra.Command {
	var url string
	var index int

	cmd := &cobra.Command{
		Use:   "inspect HTML_FILE",
		Short: "Run block detection and extraction over a saved page",
		Long:  "Replay the block detector and field extractor against a saved HTML file, e.g. one from blocked_pages/.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			log := newLogger(cfg, g, false)

			html, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			page, err := extract.NewHTMLPage(string(html))
			if err != nil {
				return err
			}

			verdict := extract.NewDetector(cfg.Selectors.BlockIndicators, log).Detect(page, 200)
			res := extract.NewExtractor(cfg.Selectors, retry.Policy{Attempts: 1}, log).
				Extract(cmd.Context(), page, models.InputRecord{URL: url})
			if err := printInspection(cmd.OutOrStdout(), args[0], verdict, res); err != nil {
				return err
			}

			if index < 0 || !cfg.Database.Enabled() {
				return nil
			}
			db, err := database.New(cmd.Context(), database.ConfigFrom(cfg.Database))
			if err != nil {
				log.Warn("result mirror unavailable", "host", cfg.Database.Host, "error", err)
				return nil
			}
			defer db.Close()
			return printMirrored(cmd.Context(), cmd.OutOrStdout(), database.NewResultRepository(db), index, res)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to record in the result")
	cmd.Flags().IntVar(&index, "index", -1, "ORIGINAL_INDEX to compare with the last mirrored price (needs DB_HOST)")
	return cmd
}

// priceHistory is the part of the result mirror inspect reads from.
type priceHistory interface {
	LatestPrice(ctx context.Context, originalIndex int) (models.Price, time.Time, error)
}

func printMirrored(ctx context.Context, w io.Writer, h priceHistory, index int, res *models.Result) error {
	price, at, err := h.LatestPrice(ctx, index)
	if err != nil {
		_, werr := fmt.Fprintf(w, "MIRRORED_PRICE\tnone (%v)\n", err)
		return werr
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "MIRRORED_PRICE\t%s (%s)\n", price, at.Format(models.TimestampLayout))
	if price.Valid && res.Price.Valid {
		fmt.Fprintf(tw, "PRICE_CHANGE\t%+d\n", res.Price.Amount-price.Amount)
	}
	return tw.Flush()
}

func printInspection(w io.Writer, file string, v extract.Verdict, res *models.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "FILE\t%s\n", file)
	if v.Blocked {
		fmt.Fprintf(tw, "BLOCKED\tyes (%s)\n", v.Reason)
	} else {
		fmt.Fprintf(tw, "BLOCKED\tno\n")
	}
	row := res.Row()
	for i, col := range models.Columns {
		switch col {
		case models.ColURL, models.ColOriginalIndex, models.ColExtractionTime, models.ColDate:
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", col, row[i])
	}
	return tw.Flush()
}
