package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/price-crawler/internal/browser"
	"github.com/maltedev/price-crawler/internal/checkpoint"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/ratelimit"
	"github.com/maltedev/price-crawler/internal/store"
)

const PhaseCrawl = "crawl"

// RunRequest describes one crawl over a slice of the input file.
type RunRequest struct {
	SourcePath   string
	Records      []models.InputRecord // the full input file
	BatchSize    int
	Start        int
	End          int // exclusive; <= 0 means the end of Records
	AutoResume   bool
	AutoValidate bool
	OutputPath   string
}

// RunStats is threaded through every batch of a run.
type RunStats struct {
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Blocked    int       `json:"blocked"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s RunStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Processed) * 100
}

type RunReport struct {
	RunID         string
	Stats         RunStats
	Start         int
	End           int
	OutputPath    string
	Completed     bool
	Blocked       bool
	BlockedIndex  int
	ValidatedPath string
}

type Orchestrator struct {
	launcher    browser.Launcher
	driver      *Driver
	checkpoints *checkpoint.Store
	recordPacer ratelimit.Pacer
	batchPacer  ratelimit.Pacer
	validator   Validator
	sink        ResultSink
	observers   Observers
	logger      *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithValidator(v Validator) OrchestratorOption {
	return func(o *Orchestrator) { o.validator = v }
}

func WithResultSink(s ResultSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = s }
}

func WithObservers(obs ...Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs...) }
}

func NewOrchestrator(launcher browser.Launcher, driver *Driver, checkpoints *checkpoint.Store, recordPacer, batchPacer ratelimit.Pacer, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		launcher:    launcher,
		driver:      driver,
		checkpoints: checkpoints,
		recordPacer: recordPacer,
		batchPacer:  batchPacer,
		logger:      logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run crawls the requested window batch by batch. A block ends the run with
// the blocked index checkpointed; a completed run resets the checkpoint and
// optionally validates the output.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	if req.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", req.BatchSize)
	}
	if req.OutputPath == "" {
		return nil, errors.New("output path is required")
	}

	start := req.Start
	if start < 0 {
		start = 0
	}
	if req.AutoResume {
		cp, err := o.checkpoints.Load()
		if err != nil {
			o.logger.Warn("ignoring unreadable checkpoint", "error", err)
		} else if idx, ok := cp.ResumeIndex(req.SourcePath); ok {
			switch {
			case cp.BlockedIndex != nil:
				// a blocked record is retried even when it sits before the requested start
				o.logger.Info("resuming from blocked record", "from", start, "to", idx)
				start = idx
			case idx > start:
				o.logger.Info("resuming from checkpoint", "from", start, "to", idx)
				start = idx
			}
		}
	}
	end := req.End
	if end <= 0 || end > len(req.Records) {
		end = len(req.Records)
	}

	report := &RunReport{
		RunID:      uuid.New().String(),
		Start:      start,
		End:        end,
		OutputPath: req.OutputPath,
	}
	stats := RunStats{StartedAt: time.Now()}
	if start < end {
		stats.Total = end - start
	}
	log := o.logger.With("run_id", report.RunID)

	o.observers.Emit(models.RunEvent{Type: models.EventRunStarted, RunID: report.RunID, Phase: PhaseCrawl, Total: stats.Total, Index: start, OutputPath: req.OutputPath})
	log.Info("run started", "source", req.SourcePath, "start", start, "end", end, "total", stats.Total, "batch_size", req.BatchSize)

	writer := store.NewResultWriter(req.OutputPath, o.logger)
	window := req.Records[min(start, end):end]
	batches := (len(window) + req.BatchSize - 1) / req.BatchSize

	for b := 0; b < batches; b++ {
		batchStart := b * req.BatchSize
		batchEnd := min(batchStart+req.BatchSize, len(window))

		if err := o.checkpoints.Save(req.SourcePath, b, start+batchStart, nil); err != nil {
			return report, fmt.Errorf("failed to checkpoint batch %d: %w", b, err)
		}
		log.Info("batch started", "batch", b+1, "of", batches, "from", start+batchStart, "to", start+batchEnd)

		var blocked *int
		var err error
		stats, blocked, err = o.runBatch(ctx, report.RunID, req.SourcePath, b, start+batchStart, window[batchStart:batchEnd], writer, stats)
		report.Stats = stats
		if err != nil {
			return report, err
		}
		if blocked != nil {
			report.Blocked = true
			report.BlockedIndex = *blocked
			stats.FinishedAt = time.Now()
			report.Stats = stats
			log.Warn("run stopped on block", "blocked_index", *blocked, "resume_with", "same command")
			o.logSummary(log, stats)
			return report, nil
		}

		if err := o.checkpoints.Save(req.SourcePath, b+1, start+batchEnd, nil); err != nil {
			return report, fmt.Errorf("failed to checkpoint batch %d: %w", b, err)
		}
		o.observers.Emit(models.RunEvent{
			Type: models.EventBatchCompleted, RunID: report.RunID, Phase: PhaseCrawl, Batch: b + 1,
			Index: start + batchEnd, Total: stats.Total, Processed: stats.Processed,
			Succeeded: stats.Succeeded, Failed: stats.Failed, Blocked: stats.Blocked,
		})

		if b < batches-1 {
			log.Info("waiting before next batch")
			if err := o.batchPacer.Wait(ctx); err != nil {
				return report, err
			}
		}
	}

	if err := o.checkpoints.Reset(); err != nil {
		log.Error("failed to reset checkpoint", "error", err)
	}
	stats.FinishedAt = time.Now()
	report.Stats = stats
	report.Completed = true
	o.logSummary(log, stats)
	o.observers.Emit(models.RunEvent{
		Type: models.EventRunCompleted, RunID: report.RunID, Phase: PhaseCrawl, Total: stats.Total,
		Processed: stats.Processed, Succeeded: stats.Succeeded, Failed: stats.Failed, Blocked: stats.Blocked,
		OutputPath: req.OutputPath,
	})

	if req.AutoValidate && o.validator != nil {
		if _, err := os.Stat(req.OutputPath); err != nil {
			log.Info("skipping validation, no output written", "path", req.OutputPath)
			return report, nil
		}
		validated, err := o.validator.Validate(ctx, req.OutputPath)
		if err != nil {
			return report, fmt.Errorf("validation failed: %w", err)
		}
		report.ValidatedPath = validated
	}
	return report, nil
}

// runBatch drives one batch in one browser. It returns the absolute blocked
// index when the batch stopped on a block.
func (o *Orchestrator) runBatch(ctx context.Context, runID, source string, batch, absStart int, records []models.InputRecord, writer *store.ResultWriter, stats RunStats) (RunStats, *int, error) {
	br, err := o.launcher.Launch(ctx, batch)
	if err != nil {
		return stats, nil, fmt.Errorf("failed to launch browser for batch %d: %w", batch, err)
	}
	defer func() {
		if err := br.Close(); err != nil {
			o.logger.Warn("failed to close browser", "error", err)
		}
	}()
	o.logger.Info("browser launched", "run_id", runID, "batch", batch+1, "browser", br.Name())

	results := make([]*models.Result, 0, len(records))
	flush := func() error {
		if len(results) == 0 {
			return nil
		}
		if _, err := writer.Append(results); err != nil {
			return fmt.Errorf("failed to save batch %d: %w", batch, err)
		}
		mirror(ctx, o.sink, o.logger, runID, PhaseCrawl, results)
		return nil
	}

	for i, rec := range records {
		abs := absStart + i
		outcome, err := o.driver.Drive(ctx, br, rec, abs)
		if err != nil {
			// stopped from outside: keep what we have and point the checkpoint past it
			if ferr := flush(); ferr != nil {
				return stats, nil, errors.Join(err, ferr)
			}
			if cerr := o.checkpoints.Save(source, batch, abs, nil); cerr != nil {
				o.logger.Error("failed to checkpoint after interrupt", "error", cerr)
			}
			return stats, nil, err
		}

		if outcome.Blocked {
			stats.Blocked++
			if err := flush(); err != nil {
				return stats, nil, err
			}
			if err := o.checkpoints.Save(source, batch, abs, &abs); err != nil {
				return stats, nil, fmt.Errorf("failed to checkpoint block: %w", err)
			}
			o.observers.Emit(models.RunEvent{
				Type: models.EventBlockDetected, RunID: runID, Phase: PhaseCrawl, Batch: batch + 1, Index: abs,
				Total: stats.Total, Processed: stats.Processed, Succeeded: stats.Succeeded, Failed: stats.Failed,
				Blocked: stats.Blocked, URL: rec.URL, Reason: outcome.Reason,
			})
			return stats, &abs, nil
		}

		stats.Processed++
		if outcome.Result.HasError() {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		results = append(results, outcome.Result)
		o.observers.Emit(models.RunEvent{
			Type: models.EventRecordProcessed, RunID: runID, Phase: PhaseCrawl, Batch: batch + 1, Index: abs,
			Total: stats.Total, Processed: stats.Processed, Succeeded: stats.Succeeded, Failed: stats.Failed,
			Blocked: stats.Blocked, URL: rec.URL, Reason: outcome.Result.Error,
		})

		if i < len(records)-1 {
			if err := o.recordPacer.Wait(ctx); err != nil {
				if ferr := flush(); ferr != nil {
					return stats, nil, errors.Join(err, ferr)
				}
				if cerr := o.checkpoints.Save(source, batch, abs+1, nil); cerr != nil {
					o.logger.Error("failed to checkpoint after interrupt", "error", cerr)
				}
				return stats, nil, err
			}
		}
	}

	return stats, nil, flush()
}

func (o *Orchestrator) logSummary(log *slog.Logger, s RunStats) {
	log.Info("run summary",
		"total", s.Total,
		"processed", s.Processed,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"blocked", s.Blocked,
		"success_rate", fmt.Sprintf("%.1f%%", s.SuccessRate()),
		"duration", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
}
