package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-crawler/internal/browser"
	"github.com/maltedev/price-crawler/internal/extract"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/retry"
	"github.com/maltedev/price-crawler/internal/stealth"
)

const (
	DefaultReadySelector = "#contents"
	DefaultReadyTimeout  = 5 * time.Second
)

// ProfileSource supplies the identity for each new session.
type ProfileSource interface {
	Profile(ctx context.Context) (stealth.Profile, error)
}

type Extractor interface {
	Extract(ctx context.Context, page extract.Page, rec models.InputRecord) *models.Result
}

type BlockDetector interface {
	Detect(page extract.Page, status int) extract.Verdict
}

// Outcome of driving one record. Result is nil when the page was blocked.
type Outcome struct {
	Result  *models.Result
	Blocked bool
	Reason  string
	Status  int
}

type DriverConfig struct {
	Navigation    retry.Policy
	ReadySelector string
	ReadyTimeout  time.Duration
	Humanize      bool
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Navigation:    retry.DefaultPolicy(),
		ReadySelector: DefaultReadySelector,
		ReadyTimeout:  DefaultReadyTimeout,
	}
}

// Driver visits one record in a fresh session: navigate with retries, check
// for a block, then extract. The orchestrator and the validator both use it.
type Driver struct {
	cfg       DriverConfig
	profiles  ProfileSource
	detector  BlockDetector
	extractor Extractor
	snapshots SnapshotSink
	logger    *slog.Logger
}

func NewDriver(cfg DriverConfig, profiles ProfileSource, detector BlockDetector, extractor Extractor, snapshots SnapshotSink, logger *slog.Logger) *Driver {
	return &Driver{
		cfg:       cfg,
		profiles:  profiles,
		detector:  detector,
		extractor: extractor,
		snapshots: snapshots,
		logger:    logger.With("component", "driver"),
	}
}

// Drive returns an error only when ctx is done. Every other failure becomes
// an error result.
func (d *Driver) Drive(ctx context.Context, b browser.Browser, rec models.InputRecord, absIndex int) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	log := d.logger.With("original_index", rec.OriginalIndex, "url", rec.URL)

	profile, err := d.profiles.Profile(ctx)
	if err != nil {
		return d.failed(ctx, rec, fmt.Errorf("failed to build profile: %w", err))
	}

	session, err := b.NewSession(ctx, profile)
	if err != nil {
		return d.failed(ctx, rec, fmt.Errorf("failed to open session: %w", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("failed to close session", "error", err)
		}
	}()

	status, err := d.navigate(ctx, session, rec.URL, log)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		log.Error("page load failed after retries", "error", err)
		return d.failed(ctx, rec, fmt.Errorf("page load failed after retries: %w", err))
	}

	if err := session.WaitFor(d.cfg.ReadySelector, d.cfg.ReadyTimeout); err != nil {
		log.Warn("ready selector not found", "selector", d.cfg.ReadySelector, "error", err)
	}

	page := session.Page()
	if v := d.detector.Detect(page, status); v.Blocked {
		log.Warn("page blocked", "reason", v.Reason, "status", status, "abs_index", absIndex)
		d.saveSnapshot(ctx, page, absIndex, rec.URL, log)
		return Outcome{Blocked: true, Reason: v.Reason, Status: status}, nil
	}

	if d.cfg.Humanize {
		if err := session.Humanize(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Outcome{}, ctxErr
			}
			log.Debug("humanize failed", "error", err)
		}
	}

	result := d.extractor.Extract(ctx, page, rec)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: result, Status: status}, nil
}

// navigate loads url, reloading before each retry. Blocking statuses end the
// retries at once so the detector sees them.
func (d *Driver) navigate(ctx context.Context, s browser.Session, url string, log *slog.Logger) (int, error) {
	var status int
	err := retry.Do(ctx, d.cfg.Navigation, func(attempt int) error {
		if attempt > 1 {
			if _, err := s.Reload(); err != nil {
				log.Warn("reload failed", "attempt", attempt, "error", err)
			}
		}
		st, err := s.Goto(url)
		if err != nil {
			return err
		}
		status = st
		if extract.IsBlockingStatus(st) || (st >= 200 && st < 300) {
			return nil
		}
		return fmt.Errorf("unexpected status %d", st)
	}, func(err error, attempt int, wait time.Duration) {
		log.Warn("navigation failed, retrying", "attempt", attempt, "max_attempts", d.cfg.Navigation.Attempts, "wait", wait, "error", err)
	})
	return status, err
}

func (d *Driver) saveSnapshot(ctx context.Context, page extract.Page, absIndex int, url string, log *slog.Logger) {
	if d.snapshots == nil {
		return
	}
	html, err := page.Content()
	if err != nil {
		log.Error("failed to read blocked page", "error", err)
		return
	}
	path, err := d.snapshots.SaveBlockedPage(ctx, absIndex, url, html)
	if err != nil {
		log.Error("failed to save blocked page", "error", err)
		return
	}
	log.Info("blocked page saved", "path", path)
}

func (d *Driver) failed(ctx context.Context, rec models.InputRecord, err error) (Outcome, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	return Outcome{Result: models.Failed(rec, time.Now(), err)}, nil
}
