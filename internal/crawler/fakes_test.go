package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-crawler/internal/browser"
	"github.com/maltedev/price-crawler/internal/checkpoint"
	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/extract"
	"github.com/maltedev/price-crawler/internal/models"
	"github.com/maltedev/price-crawler/internal/retry"
	"github.com/maltedev/price-crawler/internal/stealth"
)

const blockedHTML = `<html><head><title>Access Denied</title></head><body>Access Denied</body></html>`

func productHTML(name string, price int) string {
	return fmt.Sprintf(`<html><head><title>%s | 쿠팡</title></head><body>
<div id="contents"><div class="prod-atf"><div class="prod-atf-main">
<div class="prod-buy-header"><h1>%s</h1></div>
<div class="prod-price"><div class="prod-sale-price price-align"><span class="total-price"><strong>%d원</strong></span></div></div>
</div></div></div></body></html>`, name, name, price)
}

// pageScript describes how a fake site answers one URL.
type pageScript struct {
	gotoErrs int   // failing Goto calls before a response
	statuses []int // status per answered call, last one repeats
	html     string
}

type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]*pageScript
	gotos    map[string]int
	reloads  map[string]int
	humanize func(ctx context.Context) error
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:   map[string]*pageScript{},
		gotos:   map[string]int{},
		reloads: map[string]int{},
	}
}

func (s *fakeSite) set(url string, p *pageScript) { s.pages[url] = p }

func (s *fakeSite) gotoCalls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotos[url]
}

type fakeLauncher struct {
	site      *fakeSite
	mu        sync.Mutex
	launched  []int
	closed    int
	launchErr error
}

func (l *fakeLauncher) Launch(ctx context.Context, batch int) (browser.Browser, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.mu.Lock()
	l.launched = append(l.launched, batch)
	l.mu.Unlock()
	return &fakeBrowser{launcher: l}, nil
}

type fakeBrowser struct {
	launcher *fakeLauncher
}

func (b *fakeBrowser) Name() string { return "fake" }

func (b *fakeBrowser) NewSession(ctx context.Context, _ stealth.Profile) (browser.Session, error) {
	return &fakeSession{site: b.launcher.site}, nil
}

func (b *fakeBrowser) Close() error {
	b.launcher.mu.Lock()
	b.launcher.closed++
	b.launcher.mu.Unlock()
	return nil
}

type fakeSession struct {
	site *fakeSite
	url  string
	html string
}

func (s *fakeSession) Goto(url string) (int, error) {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()

	s.url = url
	n := s.site.gotos[url]
	s.site.gotos[url] = n + 1

	p, ok := s.site.pages[url]
	if !ok {
		return 0, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	if n < p.gotoErrs {
		return 0, errors.New("timeout 60000ms exceeded")
	}
	s.html = p.html
	answered := n - p.gotoErrs
	if len(p.statuses) == 0 {
		return 200, nil
	}
	return p.statuses[min(answered, len(p.statuses)-1)], nil
}

func (s *fakeSession) Reload() (int, error) {
	s.site.mu.Lock()
	s.site.reloads[s.url]++
	s.site.mu.Unlock()
	return 0, errors.New("reload not supported")
}

func (s *fakeSession) WaitFor(string, time.Duration) error { return nil }

func (s *fakeSession) Humanize(ctx context.Context) error {
	if s.site.humanize != nil {
		return s.site.humanize(ctx)
	}
	return nil
}

func (s *fakeSession) Page() extract.Page {
	page, err := extract.NewHTMLPage(s.html)
	if err != nil {
		panic(err)
	}
	return page
}

func (s *fakeSession) Close() error { return nil }

type fakeProfiles struct{}

func (fakeProfiles) Profile(context.Context) (stealth.Profile, error) {
	return stealth.Profile{UserAgent: "test"}, nil
}

type countingPacer struct {
	mu     sync.Mutex
	waits  int
	onWait func(n int) error
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	p.waits++
	n := p.waits
	p.mu.Unlock()
	if p.onWait != nil {
		return p.onWait(n)
	}
	return ctx.Err()
}

type memorySnapshots struct {
	mu    sync.Mutex
	saved map[int]string
}

func (m *memorySnapshots) SaveBlockedPage(_ context.Context, absIndex int, url, html string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[int]string{}
	}
	m.saved[absIndex] = html
	return fmt.Sprintf("mem://%d", absIndex), nil
}

type memorySink struct {
	mu   sync.Mutex
	rows map[string]int
}

func (m *memorySink) SaveResults(_ context.Context, _ string, phase string, results []*models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[string]int{}
	}
	m.rows[phase] += len(results)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []models.RunEvent
}

func (e *eventLog) OnEvent(ev models.RunEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) types() []models.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.EventType, 0, len(e.events))
	for _, ev := range e.events {
		if ev.Type != models.EventRecordProcessed {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	site        *fakeSite
	launcher    *fakeLauncher
	driver      *Driver
	checkpoints *checkpoint.Store
	recordPacer *countingPacer
	batchPacer  *countingPacer
	snapshots   *memorySnapshots
	sink        *memorySink
	events      *eventLog
	dir         string
	output      string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	site := newFakeSite()
	h := &harness{
		site:        site,
		launcher:    &fakeLauncher{site: site},
		checkpoints: checkpoint.NewStore(filepath.Join(dir, "config", "crawler_status.json")),
		recordPacer: &countingPacer{},
		batchPacer:  &countingPacer{},
		snapshots:   &memorySnapshots{},
		sink:        &memorySink{},
		events:      &eventLog{},
		dir:         dir,
		output:      filepath.Join(dir, "RAW", "2024-07-01_coupang_results.csv"),
	}

	sel := config.DefaultSelectors()
	h.driver = NewDriver(
		DriverConfig{
			Navigation:    retry.Policy{Attempts: 3, Step: time.Millisecond},
			ReadySelector: DefaultReadySelector,
		},
		fakeProfiles{},
		extract.NewDetector(sel.BlockIndicators, testLogger()),
		extract.NewExtractor(sel, retry.Policy{Attempts: 1}, testLogger()),
		h.snapshots,
		testLogger(),
	)
	return h
}

func (h *harness) orchestrator(opts ...OrchestratorOption) *Orchestrator {
	opts = append([]OrchestratorOption{WithResultSink(h.sink), WithObservers(h.events)}, opts...)
	return NewOrchestrator(h.launcher, h.driver, h.checkpoints, h.recordPacer, h.batchPacer, testLogger(), opts...)
}

// records builds n input records whose URLs all serve a normal product page.
func (h *harness) records(n int) []models.InputRecord {
	recs := make([]models.InputRecord, n)
	for i := range recs {
		url := fmt.Sprintf("https://www.coupang.com/vp/products/%d", i)
		recs[i] = models.InputRecord{URL: url, OriginalIndex: i, ProdID: fmt.Sprintf("P%d", i)}
		h.site.set(url, &pageScript{html: productHTML(fmt.Sprintf("상품 %d", i), 1000*(i+1))})
	}
	return recs
}

func (h *harness) loadCheckpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.checkpoints.Load()
	require.NoError(t, err)
	require.NotNil(t, cp)
	return cp
}
