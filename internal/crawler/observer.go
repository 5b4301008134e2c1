package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/price-crawler/internal/models"
)

// Observer receives run progress. Implementations must not block for long.
type Observer interface {
	OnEvent(ev models.RunEvent)
}

type ObserverFunc func(ev models.RunEvent)

func (f ObserverFunc) OnEvent(ev models.RunEvent) { f(ev) }

// Observers fans an event out to every observer.
type Observers []Observer

func (o Observers) Emit(ev models.RunEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(ev)
		}
	}
}

// ResultSink mirrors saved results somewhere besides the output file.
type ResultSink interface {
	SaveResults(ctx context.Context, runID, phase string, results []*models.Result) error
}

// SnapshotSink keeps the markup of pages that were detected as blocks.
type SnapshotSink interface {
	SaveBlockedPage(ctx context.Context, absIndex int, url, html string) (string, error)
}

// Validator checks and repairs a finished output file.
type Validator interface {
	Validate(ctx context.Context, path string) (string, error)
}

func mirror(ctx context.Context, sink ResultSink, logger *slog.Logger, runID, phase string, results []*models.Result) {
	if sink == nil || len(results) == 0 {
		return
	}
	if err := sink.SaveResults(ctx, runID, phase, results); err != nil {
		logger.Error("failed to mirror results", "run_id", runID, "rows", len(results), "error", err)
	}
}
