package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/price-crawler/internal/browser"
	"github.com/maltedev/price-crawler/internal/crawler"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/ratelimit"
	"github.com/maltedev/price-crawler/internal/store"
)

const (
	PhaseRecrawl = "recrawl"

	DefaultBatchSize = 5

	originalSuffix  = "_original"
	validatedSuffix = "_validated"
)

// DefaultCriticalFields are the columns whose NA value marks a row for recrawl.
var DefaultCriticalFields = []string{models.ColPrice, models.ColOriginPrice, models.ColProductName}

// Uploader publishes the validated file, for example to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

type Report struct {
	RunID         string
	Total         int
	Errors        int
	Recrawled     int
	Fixed         int
	Remaining     int
	Blocked       bool
	BackupPath    string
	ValidatedPath string
	Duration      time.Duration
}

// FixRate is the share of error rows repaired, in percent.
func (r *Report) FixRate() float64 {
	if r.Errors == 0 {
		return 0
	}
	return float64(r.Fixed) / float64(r.Errors) * 100
}

type Config struct {
	BatchSize      int
	CriticalFields []string
}

type Validator struct {
	cfg         Config
	launcher    browser.Launcher
	driver      *crawler.Driver
	recordPacer ratelimit.Pacer
	batchPacer  ratelimit.Pacer
	sink        crawler.ResultSink
	uploader    Uploader
	observers   crawler.Observers
	logger      *slog.Logger
}

type Option func(*Validator)

func WithResultSink(s crawler.ResultSink) Option {
	return func(v *Validator) { v.sink = s }
}

func WithUploader(u Uploader) Option {
	return func(v *Validator) { v.uploader = u }
}

func WithObservers(obs ...crawler.Observer) Option {
	return func(v *Validator) { v.observers = append(v.observers, obs...) }
}

func New(cfg Config, launcher browser.Launcher, driver *crawler.Driver, recordPacer, batchPacer ratelimit.Pacer, logger *slog.Logger, opts ...Option) *Validator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if len(cfg.CriticalFields) == 0 {
		cfg.CriticalFields = DefaultCriticalFields
	}
	v := &Validator{
		cfg:         cfg,
		launcher:    launcher,
		driver:      driver,
		recordPacer: recordPacer,
		batchPacer:  batchPacer,
		logger:      logger.With("component", "validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs a validation pass and returns the validated file path.
func (v *Validator) Validate(ctx context.Context, path string) (string, error) {
	report, err := v.Run(ctx, path)
	if err != nil {
		return "", err
	}
	return report.ValidatedPath, nil
}

// target is one record to recrawl and the table rows it repairs.
type target struct {
	rec  models.InputRecord
	rows []int
}

// Run backs up the output file, recrawls its error rows and writes the merged
// table to <base>_validated<ext>. The input file itself is never modified.
func (v *Validator) Run(ctx context.Context, path string) (*Report, error) {
	started := time.Now()
	table, err := store.ReadTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	report := &Report{
		RunID:         uuid.New().String(),
		Total:         len(table.Rows),
		BackupPath:    store.SiblingPath(path, originalSuffix),
		ValidatedPath: store.SiblingPath(path, validatedSuffix),
	}
	log := v.logger.With("run_id", report.RunID, "path", path)

	if err := store.CopyFile(path, report.BackupPath); err != nil {
		return nil, fmt.Errorf("failed to back up results: %w", err)
	}
	log.Info("results backed up", "backup", report.BackupPath, "records", report.Total)

	targets, errorRows := v.identify(table, log)
	report.Errors = errorRows
	v.observers.Emit(models.RunEvent{Type: models.EventValidationStarted, RunID: report.RunID, Phase: PhaseRecrawl, Total: len(targets), OutputPath: path})

	if errorRows == 0 {
		log.Info("no error records, writing identical validated copy")
		if err := store.CopyFile(path, report.ValidatedPath); err != nil {
			return nil, fmt.Errorf("failed to write validated copy: %w", err)
		}
		return v.finish(ctx, report, started, log), nil
	}
	log.Info("records need recrawl", "error_rows", errorRows, "urls", len(targets))

	merged := table.Clone()
	runErr := v.recrawl(ctx, report, targets, merged, log)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return nil, runErr
	}

	report.Remaining = report.Errors - report.Fixed
	if err := store.WriteTable(report.ValidatedPath, merged); err != nil {
		return nil, fmt.Errorf("failed to write validated results: %w", err)
	}
	if runErr != nil {
		log.Warn("validation interrupted, partial results written", "validated", report.ValidatedPath)
		return report, runErr
	}
	return v.finish(ctx, report, started, log), nil
}

func (v *Validator) finish(ctx context.Context, report *Report, started time.Time, log *slog.Logger) *Report {
	report.Duration = time.Since(started)
	if v.uploader != nil {
		if location, err := v.uploader.UploadFile(ctx, report.ValidatedPath); err != nil {
			log.Error("failed to upload validated results", "error", err)
		} else {
			log.Info("validated results uploaded", "location", location)
		}
	}

	log.Info("validation summary",
		"total", report.Total,
		"error_records", report.Errors,
		"recrawled", report.Recrawled,
		"fixed", report.Fixed,
		"fix_rate", fmt.Sprintf("%.1f%%", report.FixRate()),
		"remaining_errors", report.Remaining,
		"blocked", report.Blocked,
		"validated", report.ValidatedPath)
	v.observers.Emit(models.RunEvent{
		Type: models.EventValidationCompleted, RunID: report.RunID, Phase: PhaseRecrawl,
		Total: report.Errors, Processed: report.Recrawled, Succeeded: report.Fixed,
		Failed: report.Remaining, OutputPath: report.ValidatedPath,
	})
	return report
}

// identify collects the error rows of table, one target per ORIGINAL_INDEX.
// It returns the targets and the number of error rows.
func (v *Validator) identify(table *store.Table, log *slog.Logger) ([]target, int) {
	var targets []target
	byIndex := map[int]int{}
	count := 0

	for row := range table.Rows {
		if !IsErrorRow(table, row, v.cfg.CriticalFields) {
			continue
		}
		count++

		idx, err := strconv.Atoi(table.Get(row, models.ColOriginalIndex))
		if err != nil {
			log.Warn("error row without original index, skipping", "row", row, "url", table.Get(row, models.ColURL))
			continue
		}
		if pos, ok := byIndex[idx]; ok {
			targets[pos].rows = append(targets[pos].rows, row)
			continue
		}
		byIndex[idx] = len(targets)
		targets = append(targets, target{
			rec: models.InputRecord{
				URL:           table.Get(row, models.ColURL),
				OriginalIndex: idx,
				ProdID:        table.Get(row, models.ColProdID),
			},
			rows: []int{row},
		})
	}
	return targets, count
}

// IsErrorRow reports whether a row carries an error marker or NA in any
// critical field.
func IsErrorRow(table *store.Table, row int, critical []string) bool {
	if table.Get(row, models.ColError) != "" {
		return true
	}
	for _, col := range critical {
		if table.Index(col) >= 0 && table.Get(row, col) == models.NotAvailable {
			return true
		}
	}
	return false
}

// recrawl drives targets in batches, one fresh browser per batch, merging
// every success into merged as it arrives. A block stops the pass.
func (v *Validator) recrawl(ctx context.Context, report *Report, targets []target, merged *store.Table, log *slog.Logger) error {
	batches := (len(targets) + v.cfg.BatchSize - 1) / v.cfg.BatchSize

	for b := 0; b < batches; b++ {
		lo := b * v.cfg.BatchSize
		hi := min(lo+v.cfg.BatchSize, len(targets))
		log.Info("recrawl batch started", "batch", b+1, "of", batches, "from", lo+1, "to", hi, "total", len(targets))

		blocked, err := v.recrawlBatch(ctx, report, b, targets[lo:hi], merged, log)
		if err != nil {
			return err
		}
		if blocked {
			report.Blocked = true
			log.Warn("recrawl stopped on block", "batch", b+1)
			return nil
		}

		if b < batches-1 {
			log.Info("waiting before next recrawl batch")
			if err := v.batchPacer.Wait(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *Validator) recrawlBatch(ctx context.Context, report *Report, batch int, targets []target, merged *store.Table, log *slog.Logger) (bool, error) {
	// the first configured browser, as every recrawl batch runs alone
	br, err := v.launcher.Launch(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("failed to launch browser for recrawl batch %d: %w", batch, err)
	}
	defer func() {
		if err := br.Close(); err != nil {
			log.Warn("failed to close browser", "error", err)
		}
	}()
	log.Info("browser launched", "batch", batch+1, "browser", br.Name())

	var fixed []*models.Result
	defer func() {
		if v.sink != nil && len(fixed) > 0 {
			if err := v.sink.SaveResults(ctx, report.RunID, PhaseRecrawl, fixed); err != nil {
				log.Error("failed to mirror recrawled results", "rows", len(fixed), "error", err)
			}
		}
	}()

	for i, t := range targets {
		outcome, err := v.driver.Drive(ctx, br, t.rec, t.rec.OriginalIndex)
		if err != nil {
			return false, err
		}
		if outcome.Blocked {
			v.observers.Emit(models.RunEvent{
				Type: models.EventBlockDetected, RunID: report.RunID, Phase: PhaseRecrawl, Batch: batch + 1,
				Index: t.rec.OriginalIndex, URL: t.rec.URL, Reason: outcome.Reason,
			})
			return true, nil
		}

		report.Recrawled++
		res := outcome.Result
		if res.HasError() {
			log.Warn("recrawl failed, keeping original row", "original_index", t.rec.OriginalIndex, "error", res.Error)
		} else {
			Merge(merged, t.rows, res)
			report.Fixed += len(t.rows)
			fixed = append(fixed, res)
			log.Info("record fixed", "original_index", t.rec.OriginalIndex, "rows", len(t.rows))
		}
		v.observers.Emit(models.RunEvent{
			Type: models.EventRecordProcessed, RunID: report.RunID, Phase: PhaseRecrawl, Batch: batch + 1,
			Index: t.rec.OriginalIndex, Processed: report.Recrawled, Succeeded: report.Fixed,
			URL: t.rec.URL, Reason: res.Error,
		})

		if i < len(targets)-1 {
			if err := v.recordPacer.Wait(ctx); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

// Merge overwrites rows with a successful result, column by column, and
// clears the error marker. Columns the table does not have are ignored.
func Merge(table *store.Table, rows []int, res *models.Result) {
	values := res.Values()
	for _, row := range rows {
		for col, value := range values {
			if i := table.Index(col); i >= 0 {
				table.Rows[row][i] = value
			}
		}
		if i := table.Index(models.ColError); i >= 0 {
			table.Rows[row][i] = ""
		}
	}
}
