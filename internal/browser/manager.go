// Package browser drives a single Chrome tab through chromedp and hands out
// generation-tagged session handles.
package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-scraper/internal/proxy"
)

// Config controls the browser process.
type Config struct {
	Headless          bool
	Proxy             *proxy.Endpoint
	AllowImages       bool
	ProfileDir        string
	ExecPath          string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	// RestartInterval schedules proactive restarts; zero disables them.
	RestartInterval time.Duration
	RestartPause    time.Duration
	// StartURL is loaded after every restart.
	StartURL string
}

// Navigator gates page loads, typically a per-host rate limiter.
type Navigator interface {
	Wait(ctx context.Context, url string) error
}

// Manager owns the Chrome process. Restarts happen only when the caller
// asks for them, so session handles never change underneath a running step.
type Manager struct {
	cfg     Config
	limiter Navigator
	clock   marketplace.Clock
	logger  *zap.Logger

	mu          sync.Mutex
	generation  uint64
	startedAt   time.Time
	browserCtx  context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
}

// NewManager creates a Manager. Call Start before requesting sessions.
func NewManager(cfg Config, limiter Navigator, clock marketplace.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ClickTimeout <= 0 {
		cfg.ClickTimeout = 5 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1440, 900
	}
	return &Manager{cfg: cfg, limiter: limiter, clock: clock, logger: logger}
}

// Start launches Chrome and opens the working tab.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx != nil {
		return fmt.Errorf("browser already started")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	setup := []chromedp.Action{}
	if m.cfg.Proxy != nil && m.cfg.Proxy.HasAuth() {
		m.listenForProxyAuth(tabCtx, *m.cfg.Proxy)
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}
	startCtx, cancel := context.WithTimeout(tabCtx, m.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	// The first Run allocates the browser; it must not be bound to startCtx
	// alone or the browser would close when startCtx ends.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("launch browser: %w", err)
	}
	if len(setup) > 0 {
		if err := chromedp.Run(startCtx, setup...); err != nil {
			tabCancel()
			allocCancel()
			return fmt.Errorf("configure browser: %w", err)
		}
	}

	m.browserCtx = tabCtx
	m.allocCancel = allocCancel
	m.tabCancel = tabCancel
	m.generation++
	m.startedAt = m.now()
	m.logger.Info("browser started",
		zap.Uint64("generation", m.generation),
		zap.Bool("headless", m.cfg.Headless),
		zap.String("profile_dir", m.cfg.ProfileDir),
	)
	return nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(m.cfg.WindowWidth, m.cfg.WindowHeight),
	)
	if m.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if !m.cfg.AllowImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if m.cfg.ProfileDir != "" {
		if abs, err := filepath.Abs(m.cfg.ProfileDir); err == nil {
			opts = append(opts, chromedp.UserDataDir(abs))
		}
	}
	if m.cfg.Proxy != nil {
		opts = append(opts, chromedp.ProxyServer(m.cfg.Proxy.ServerURL()))
	}
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	return opts
}

// listenForProxyAuth answers proxy credential challenges and releases the
// requests the Fetch domain pauses.
func (m *Manager) listenForProxyAuth(tabCtx context.Context, ep proxy.Endpoint) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: ep.Username,
					Password: ep.Password,
				}
				if err := chromedp.Run(tabCtx, fetch.ContinueWithAuth(e.RequestID, resp)); err != nil {
					m.logger.Warn("proxy auth reply failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(tabCtx, fetch.ContinueRequest(e.RequestID)); err != nil {
					m.logger.Debug("continue paused request failed", zap.Error(err))
				}
			}()
		}
	})
}

// Session returns a handle bound to the current browser generation.
func (m *Manager) Session() marketplace.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Session{manager: m, gen: m.generation, ctx: m.browserCtx}
}

// Generation returns the number of browser launches so far.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// RestartDue reports whether the restart interval has elapsed.
func (m *Manager) RestartDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.RestartInterval <= 0 || m.browserCtx == nil {
		return false
	}
	return m.now().Sub(m.startedAt) >= m.cfg.RestartInterval
}

// Restart closes Chrome, waits, relaunches it and reloads the start page.
// Handles issued before the restart report marketplace.ErrStaleSession.
func (m *Manager) Restart(ctx context.Context) error {
	m.logger.Info("restarting browser", zap.Uint64("generation", m.Generation()))
	m.shutdown()
	if m.clock != nil {
		if err := m.clock.Sleep(ctx, m.cfg.RestartPause); err != nil {
			return fmt.Errorf("restart pause: %w", err)
		}
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("restart browser: %w: %w", marketplace.ErrSessionDead, err)
	}
	metrics.ObserveBrowserRestart()
	if m.cfg.StartURL != "" {
		if err := m.Session().Navigate(ctx, m.cfg.StartURL); err != nil {
			m.logger.Warn("reload start page after restart failed", zap.Error(err))
		}
	}
	return nil
}

// Close shuts Chrome down.
func (m *Manager) Close() error {
	m.shutdown()
	return nil
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tabCancel != nil {
		m.tabCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	m.browserCtx = nil
	m.tabCancel = nil
	m.allocCancel = nil
}

func (m *Manager) now() time.Time {
	if m.clock != nil {
		return m.clock.Now()
	}
	return time.Now()
}

func (m *Manager) currentGeneration() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation, m.browserCtx != nil
}
