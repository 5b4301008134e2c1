package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/price-crawler/internal/extract"
	"github.com/maltedev/price-crawler/internal/stealth"
)

// Launcher starts one browser per batch.
type Launcher interface {
	Launch(ctx context.Context, batch int) (Browser, error)
}

// Browser hands out isolated sessions; every record gets a fresh one.
type Browser interface {
	Name() string
	NewSession(ctx context.Context, profile stealth.Profile) (Session, error)
	Close() error
}

// Session is one browser context with a single page.
type Session interface {
	// Goto loads url and returns the HTTP status, 0 when there was no response.
	Goto(url string) (int, error)
	Reload() (int, error)
	// WaitFor waits for selector to appear.
	WaitFor(selector string, timeout time.Duration) error
	Humanize(ctx context.Context) error
	Page() extract.Page
	Close() error
}

type Options struct {
	Headless          bool
	Browsers          []string
	NavigationTimeout time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          false,
		Browsers:          []string{"webkit"},
		NavigationTimeout: 60 * time.Second,
	}
}

// ChooseBrowser rotates through the configured browser types by batch number.
func ChooseBrowser(browsers []string, batch int) string {
	if len(browsers) == 0 {
		return "webkit"
	}
	if batch < 0 {
		batch = -batch
	}
	return browsers[batch%len(browsers)]
}

var chromiumArgs = []string{
	"--disable-http2",
	"--disable-gpu",
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-accelerated-2d-canvas",
	"--disable-web-security",
	"--disable-features=IsolateOrigins,site-per-process",
	"--disable-site-isolation-trials",
	"--disable-blink-features=AutomationControlled",
}

// PlaywrightLauncher drives real browsers. The playwright driver is started
// on first launch and stopped by Close.
type PlaywrightLauncher struct {
	opts   *Options
	logger *slog.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewPlaywrightLauncher(opts *Options, logger *slog.Logger) *PlaywrightLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &PlaywrightLauncher{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context, batch int) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}
		l.pw = pw
	}

	name := ChooseBrowser(l.opts.Browsers, batch)
	var bt playwright.BrowserType
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
	}
	switch name {
	case "chromium":
		bt = l.pw.Chromium
		launchOpts.Args = chromiumArgs
	case "firefox":
		bt = l.pw.Firefox
	default:
		bt = l.pw.WebKit
	}

	b, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}
	l.logger.Info("browser launched", "browser", name, "batch", batch, "headless", l.opts.Headless)

	return &playwrightBrowser{
		name:    name,
		browser: b,
		timeout: l.opts.NavigationTimeout,
		logger:  l.logger,
	}, nil
}

// Close stops the playwright driver.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type playwrightBrowser struct {
	name    string
	browser playwright.Browser
	timeout time.Duration
	logger  *slog.Logger
}

func (b *playwrightBrowser) Name() string {
	return b.name
}

func (b *playwrightBrowser) NewSession(ctx context.Context, profile stealth.Profile) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(profile.UserAgent),
		Viewport: &playwright.Size{
			Width:  profile.Viewport.Width,
			Height: profile.Viewport.Height,
		},
		BypassCSP:         playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
		Locale:            playwright.String("ko-KR"),
		TimezoneId:        playwright.String("Asia/Seoul"),
	}
	if profile.Proxy != nil {
		contextOpts.Proxy = &playwright.Proxy{
			Server:   "http://" + profile.Proxy.Server,
			Username: playwright.String(profile.Proxy.Username),
			Password: playwright.String(profile.Proxy.Password),
		}
	}

	bctx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if profile.Script != "" {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(profile.Script)}); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("failed to add init script: %w", err)
		}
	}

	if len(profile.Cookies) > 0 {
		cookies := make([]playwright.OptionalCookie, len(profile.Cookies))
		for i, c := range profile.Cookies {
			cookies[i] = playwright.OptionalCookie{
				Name:   c.Name,
				Value:  c.Value,
				Domain: playwright.String(c.Domain),
				Path:   playwright.String(c.Path),
			}
		}
		if err := bctx.AddCookies(cookies); err != nil {
			bctx.Close()
			return nil, fmt.Errorf("failed to add cookies: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.timeout.Milliseconds()))

	return &playwrightSession{
		ctx:     bctx,
		page:    page,
		timeout: b.timeout,
		logger:  b.logger,
	}, nil
}

func (b *playwrightBrowser) Close() error {
	if err := b.browser.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type playwrightSession struct {
	ctx     playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger
}

func (s *playwrightSession) Goto(url string) (int, error) {
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
	})
	return statusOf(resp, err)
}

func (s *playwrightSession) Reload() (int, error) {
	resp, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
	})
	return statusOf(resp, err)
}

func (s *playwrightSession) WaitFor(selector string, timeout time.Duration) error {
	return s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

// Humanize moves the mouse and scrolls a little before reading the page.
func (s *playwrightSession) Humanize(ctx context.Context) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200 + rand.Intn(50))
		y := float64(100 + i*150 + rand.Intn(50))
		if err := s.page.Mouse().Move(x, y); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := pause(ctx, time.Millisecond*time.Duration(200+i*100)); err != nil {
			return err
		}
	}
	if _, err := s.page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// pause waits for d unless ctx is done first.
func pause(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *playwrightSession) Page() extract.Page {
	return &Page{page: s.page}
}

func (s *playwrightSession) Close() error {
	var errs []error
	if err := s.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close page: %w", err))
	}
	if err := s.ctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close context: %w", err))
	}
	return errors.Join(errs...)
}

func statusOf(resp playwright.Response, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

// Page adapts a playwright page to extract.Page.
type Page struct {
	page playwright.Page
}

func (p *Page) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *Page) Texts(selector string) ([]string, error) {
	return p.page.Locator(selector).AllTextContents()
}

func (p *Page) Content() (string, error) {
	return p.page.Content()
}

func (p *Page) Title() (string, error) {
	return p.page.Title()
}
