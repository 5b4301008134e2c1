// Package stealth builds the per-session browser identity: viewport, user
// agent, optional proxy, init script and default cookies.
package stealth

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"text/template"
	"time"

	"github.com/maltedev/price-crawler/internal/config"
)

//go:embed assets/stealth.js.tmpl
var scriptTemplate string

const AutoUserAgent = "auto"

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.6.1 Safari/605.1.15",
}

var (
	glVendors = []string{
		"Intel Open Source Technology Center",
		"NVIDIA Corporation",
		"Google Inc. (NVIDIA)",
		"Apple Inc.",
	}
	glRenderers = []string{
		"Mesa DRI Intel(R) Iris(R) Xe Graphics (TGL GT2)",
		"ANGLE (NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0)",
		"ANGLE (Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0)",
		"Apple M1",
	}
)

type Viewport struct {
	Width  int
	Height int
}

type Proxy struct {
	Server   string
	Username string
	Password string
}

type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
}

// Profile is the identity applied to one browser session.
type Profile struct {
	Viewport  Viewport
	UserAgent string
	Proxy     *Proxy
	Script    string
	Cookies   []Cookie
}

// ProxyChecker verifies that a proxy can reach the outside world.
type ProxyChecker interface {
	Check(ctx context.Context, p Proxy) (string, error)
}

type Manager struct {
	stealth config.StealthConfig
	proxy   config.ProxyConfig
	checker ProxyChecker
	tmpl    *template.Template
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewManager(stealth config.StealthConfig, proxy config.ProxyConfig, checker ProxyChecker, logger *slog.Logger) (*Manager, error) {
	tmpl, err := template.New("stealth").Parse(scriptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stealth script: %w", err)
	}
	return &Manager{
		stealth: stealth,
		proxy:   proxy,
		checker: checker,
		tmpl:    tmpl,
		logger:  logger.With("component", "stealth"),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Profile builds a fresh identity. An unusable proxy is dropped with a
// warning and the session connects directly.
func (m *Manager) Profile(ctx context.Context) (Profile, error) {
	p := Profile{
		Viewport:  Viewport{Width: m.stealth.Viewport.Width, Height: m.stealth.Viewport.Height},
		UserAgent: m.UserAgent(),
		Cookies:   DefaultCookies(),
		Proxy:     m.validatedProxy(ctx),
	}

	if m.stealth.Enabled {
		script, err := m.Script()
		if err != nil {
			return Profile{}, err
		}
		p.Script = script
	}
	return p, nil
}

// UserAgent returns the configured override or a random pick from the pool.
func (m *Manager) UserAgent() string {
	ua := m.stealth.UserAgent
	if ua != "" && ua != AutoUserAgent {
		return ua
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return userAgents[m.rng.Intn(len(userAgents))]
}

// Script renders the init script for the configured viewport.
func (m *Manager) Script() (string, error) {
	m.mu.Lock()
	data := struct {
		Width, Height            int
		AvailInsetX, AvailInsetY int
		ColorDepth               int
		Cores, Memory            int
		GLVendors, GLRenderers   []string
	}{
		Width:       m.stealth.Viewport.Width,
		Height:      m.stealth.Viewport.Height,
		AvailInsetX: m.rng.Intn(10),
		AvailInsetY: m.rng.Intn(50),
		ColorDepth:  []int{24, 30, 32}[m.rng.Intn(3)],
		Cores:       []int{4, 8, 12, 16}[m.rng.Intn(4)],
		Memory:      []int{4, 8, 16}[m.rng.Intn(3)],
		GLVendors:   glVendors,
		GLRenderers: glRenderers,
	}
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := m.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render stealth script: %w", err)
	}
	return buf.String(), nil
}

func (m *Manager) validatedProxy(ctx context.Context) *Proxy {
	if !m.proxy.Enabled {
		return nil
	}
	if m.proxy.Server == "" || m.proxy.Username == "" || m.proxy.Password == "" {
		m.logger.Warn("proxy settings incomplete, continuing without proxy")
		return nil
	}

	p := Proxy{Server: m.proxy.Server, Username: m.proxy.Username, Password: m.proxy.Password}
	if m.checker == nil {
		return &p
	}

	ip, err := m.checker.Check(ctx, p)
	if err != nil {
		m.logger.Error("proxy check failed, continuing without proxy", "server", p.Server, "error", err)
		return nil
	}
	m.logger.Info("proxy check passed", "server", p.Server, "exit_ip", ip)
	return &p
}

// DefaultCookies sets the site locale and suppresses the first-visit popup.
func DefaultCookies() []Cookie {
	return []Cookie{
		{Name: "language", Value: "ko", Domain: ".coupang.com", Path: "/"},
		{Name: "noPopup", Value: "true", Domain: ".coupang.com", Path: "/"},
	}
}
