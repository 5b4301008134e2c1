package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/maltedev/price-crawler/internal/models"
)

// progressObserver draws one bar per run or validation pass.
type progressObserver struct {
	mu  sync.Mutex
	w   io.Writer
	bar *progressbar.ProgressBar
}

func newProgressObserver(w io.Writer) *progressObserver {
	return &progressObserver{w: w}
}

func (p *progressObserver) OnEvent(ev models.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case models.EventRunStarted, models.EventValidationStarted:
		desc := "Crawling"
		if ev.Type == models.EventValidationStarted {
			desc = "Recrawling errors"
		}
		p.bar = progressbar.NewOptions(ev.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	case models.EventRecordProcessed:
		if p.bar != nil {
			p.bar.Describe(fmt.Sprintf("batch %d ok %d fail %d", ev.Batch, ev.Succeeded, ev.Failed))
			_ = p.bar.Add(1)
		}
	case models.EventBlockDetected:
		if p.bar != nil {
			p.bar.Describe("blocked")
			_ = p.bar.Exit()
			p.bar = nil
		}
	case models.EventRunCompleted, models.EventValidationCompleted:
		if p.bar != nil {
			_ = p.bar.Finish()
			fmt.Fprintln(p.w)
			p.bar = nil
		}
	}
}
