package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maltedev/price-crawler/internal/crawler"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/store"
)

type crawlOptions struct {
	File       string
	Batch      int
	Start      int
	End        int
	NoRestart  bool
	NoValidate bool
	Output     string
}

func newCrawlCmd(g *globalOptions) *cobra.Command {
	opts := &crawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every URL in an input file",
		Long:  "Crawl the URLs of a .csv or .xlsx file in batches, appending results to RAW/<date>_<name><ext>.",
		Example: `  # Crawl a file, resuming from the last checkpoint
  crawler crawl --file data/urls.xlsx

  # Crawl rows 100-199 in batches of 10 without the recrawl pass
  crawler crawl --file data/urls.csv --start 100 --end 200 --batch 10 --no-validate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Input file with a URL column (required)")
	cmd.Flags().IntVarP(&opts.Batch, "batch", "b", 0, "Batch size (default from crawler_config.json)")
	cmd.Flags().IntVar(&opts.Start, "start", 0, "First row index to crawl")
	cmd.Flags().IntVar(&opts.End, "end", 0, "Row index to stop before (default: end of file)")
	cmd.Flags().BoolVar(&opts.NoRestart, "no-restart", false, "Ignore the saved checkpoint")
	cmd.Flags().BoolVar(&opts.NoValidate, "no-validate", false, "Skip the validation pass after a complete run")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output base name (default from crawler_config.json)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// OutputPath is RAW/<date>_<basename><ext of the input file>.
func OutputPath(dir, basename, input string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(input))
	if ext != ".csv" {
		ext = ".xlsx"
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", now.Format(models.DateLayout), basename, ext))
}

func runCrawl(ctx context.Context, g *globalOptions, opts *crawlOptions) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	log := newLogger(cfg, g, true)

	ctx, stop := signalContext(ctx)
	defer stop()

	records, err := store.ReadInputRecords(opts.File)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	log.Info("input loaded", "file", opts.File, "records", len(records), "unique_urls", store.UniqueURLs(records))
	if len(records) == 0 {
		log.Warn("input has no records, nothing to do")
		return nil
	}

	basename := cfg.Crawler.OutputBasename
	if opts.Output != "" {
		basename = opts.Output
	}
	batch := cfg.Crawler.BatchSize
	if opts.Batch > 0 {
		batch = opts.Batch
	}

	a, err := newApp(ctx, cfg, g, log)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.serveStatus(ctx)()

	o := crawler.NewOrchestrator(a.launcher, a.driver, a.checkpoints, a.recordPacer, a.batchPacer, log,
		crawler.WithValidator(a.validator()),
		crawler.WithResultSink(a.sink),
		crawler.WithObservers(a.observers...),
	)

	report, err := o.Run(ctx, crawler.RunRequest{
		SourcePath:   opts.File,
		Records:      records,
		BatchSize:    batch,
		Start:        opts.Start,
		End:          opts.End,
		AutoResume:   !opts.NoRestart,
		AutoValidate: !opts.NoValidate,
		OutputPath:   OutputPath(cfg.Paths.OutputDir, basename, opts.File, time.Now()),
	})
	if err != nil {
		if isInterrupt(err) {
			log.Warn("crawl interrupted, run the same command to resume")
			return nil
		}
		return err
	}

	switch {
	case report.Blocked:
		log.Warn("crawl stopped on block, run the same command later to resume",
			"blocked_index", report.BlockedIndex, "output", report.OutputPath)
	case report.ValidatedPath != "":
		log.Info("crawl completed", "output", report.OutputPath, "validated", report.ValidatedPath)
	default:
		log.Info("crawl completed", "output", report.OutputPath)
	}
	return nil
}
