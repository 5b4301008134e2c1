package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maltedev/price-crawler/internal/api"
	"github.com/maltedev/price-crawler/internal/archive"
	"github.com/maltedev/price-crawler/internal/browser"
	"github.com/maltedev/price-crawler/internal/checkpoint"
	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/crawler"
	"github.com/maltedev/price-crawler/internal/database"
	"github.com/maltedev/price-crawler/internal/events"
	"github.com/maltedev/price-crawler/internal/extract"
	"github.com/maltedev/price-crawler/internal/ratelimit"
	"github.com/maltedev/price-crawler/internal/retry"
	"github.com/maltedev/price-crawler/internal/status"
	"github.com/maltedev/price-crawler/internal/stealth"
	"github.com/maltedev/price-crawler/internal/validator"
	"github.com/maltedev/price-crawler/pkg/logger"
)

const logStamp = "20060102_150405"

// app holds everything a crawl or validation run needs.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	launcher    *browser.PlaywrightLauncher
	driver      *crawler.Driver
	checkpoints *checkpoint.Store
	recordPacer ratelimit.Pacer
	batchPacer  ratelimit.Pacer
	archiver    *archive.Archiver
	sink        crawler.ResultSink
	tracker     *status.Tracker
	observers   []crawler.Observer
	closers     []func()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// loadConfig reads and validates the configuration documents. Any failure
// here aborts the command before crawling starts.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.StatusAddr != "" {
		cfg.Server.Addr = opts.StatusAddr
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, opts *globalOptions, toFile bool) *slog.Logger {
	lc := logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if opts.Debug {
		lc.Level = "debug"
	}
	if toFile {
		lc.FilePath = filepath.Join(cfg.Logging.Dir, fmt.Sprintf("crawler_%s.log", time.Now().Format(logStamp)))
	}
	l := logger.New(lc)
	slog.SetDefault(l)
	return l
}

func newApp(ctx context.Context, cfg *config.Config, opts *globalOptions, log *slog.Logger) (*app, error) {
	a := &app{
		cfg:         cfg,
		logger:      log,
		checkpoints: checkpoint.NewStore(cfg.Paths.StatusFile),
		recordPacer: ratelimit.NewJitterPacer(cfg.Crawler.URLWaitTime.Bounds()),
		batchPacer:  ratelimit.NewJitterPacer(cfg.Crawler.BatchWaitTime.Bounds()),
		tracker:     status.NewTracker(),
	}
	a.observers = append(a.observers, a.tracker)
	if !opts.NoProgress {
		a.observers = append(a.observers, newProgressObserver(os.Stderr))
	}

	profiles, err := stealth.NewManager(cfg.Crawler.Stealth, cfg.Crawler.Proxy, stealth.NewHTTPProxyChecker(cfg.Crawler.Proxy.CheckURL), log)
	if err != nil {
		return nil, err
	}

	var remote *archive.Remote
	if cfg.Archive.Enabled() {
		remote, err = archive.Dial(ctx, cfg.Archive)
		if err != nil {
			log.Warn("object storage unavailable, keeping artifacts local only", "endpoint", cfg.Archive.Endpoint, "error", err)
			remote = nil
		} else {
			log.Info("archiving artifacts", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
		}
	}
	a.archiver = archive.New(archive.NewLocal(cfg.Paths.BlockedDir), remote, log)

	if cfg.Database.Enabled() {
		db, err := database.New(ctx, database.ConfigFrom(cfg.Database))
		if err != nil {
			log.Warn("result mirror disabled", "host", cfg.Database.Host, "error", err)
		} else {
			repo := database.NewResultRepository(db)
			if err := repo.EnsureSchema(ctx); err != nil {
				log.Warn("result mirror disabled", "error", err)
				db.Close()
			} else {
				a.sink = repo
				a.closers = append(a.closers, db.Close)
				log.Info("mirroring results to postgres", "host", cfg.Database.Host, "database", cfg.Database.DBName)
			}
		}
	}

	if cfg.Redis.Enabled() {
		pub, err := events.Connect(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("event stream disabled", "error", err)
		} else {
			a.observers = append(a.observers, pub)
			a.closers = append(a.closers, func() { pub.Close() })
		}
	}

	a.launcher = browser.NewPlaywrightLauncher(&browser.Options{
		Headless:          cfg.Crawler.Headless,
		Browsers:          cfg.Crawler.Browsers,
		NavigationTimeout: browser.DefaultOptions().NavigationTimeout,
	}, log)
	a.closers = append(a.closers, func() {
		if err := a.launcher.Close(); err != nil {
			log.Warn("failed to stop playwright", "error", err)
		}
	})

	driverCfg := crawler.DefaultDriverConfig()
	driverCfg.Humanize = cfg.Crawler.Stealth.Enabled
	a.driver = crawler.NewDriver(
		driverCfg,
		profiles,
		extract.NewDetector(cfg.Selectors.BlockIndicators, log),
		extract.NewExtractor(cfg.Selectors, retry.DefaultPolicy(), log),
		a.archiver,
		log,
	)
	return a, nil
}

func (a *app) validator() *validator.Validator {
	opts := []validator.Option{
		validator.WithUploader(a.archiver),
		validator.WithObservers(a.observers...),
	}
	if a.sink != nil {
		opts = append(opts, validator.WithResultSink(a.sink))
	}
	return validator.New(validator.Config{
		BatchSize:      a.cfg.Crawler.RecrawlBatchSize,
		CriticalFields: a.cfg.Crawler.CriticalFields,
	}, a.launcher, a.driver, a.recordPacer, a.batchPacer, a.logger, opts...)
}

// serveStatus starts the status API when an address is configured. The
// returned function stops it.
func (a *app) serveStatus(ctx context.Context) func() {
	if a.cfg.Server.Addr == "" {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	srv := api.NewServer(a.cfg.Server, api.NewHandlers(a.tracker, a.checkpoints, a.logger), a.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			a.logger.Error("status server failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}
