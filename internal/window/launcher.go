// Package window opens the detached popup surface in a local Chrome window.
package window

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"

	"pkt.systems/pslog"
)

const (
	// DefaultWidth is the popup width in pixels.
	DefaultWidth = 420
	// DefaultHeight is the popup height in pixels.
	DefaultHeight = 820
)

// Config configures the popup window.
type Config struct {
	// URL is the popup page, usually the API server root.
	URL string
	// ExecPath overrides the Chrome binary.
	ExecPath string
	Width    int
	Height   int
	// Headless runs without a visible window. Used by tests and CI.
	Headless bool
}

type browser interface {
	open(cfg Config) (context.Context, context.CancelFunc, error)
	navigate(ctx context.Context, url string) error
}

// Launcher focuses or creates the popup window. It keeps one browser
// process alive for the lifetime of the launcher.
type Launcher struct {
	cfg     Config
	browser browser
	log     pslog.Logger

	mu     sync.Mutex
	tabCtx context.Context
	cancel context.CancelFunc
}

// New constructs a Launcher.
func New(cfg Config, logger pslog.Logger) (*Launcher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("window url is required")
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	return &Launcher{cfg: cfg, browser: chromeBrowser{}, log: logger}, nil
}

// Launch shows the popup page. A window that is still open is navigated
// back to the page; otherwise a new browser is started.
func (l *Launcher) Launch(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	log := l.log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	if l.tabCtx != nil && l.tabCtx.Err() == nil {
		err := l.browser.navigate(l.tabCtx, l.cfg.URL)
		if err == nil {
			log.Info("window reused", "url", l.cfg.URL)
			return nil
		}
		log.Debug("window reuse failed", "err", err)
		l.cancel()
	}
	tabCtx, cancel, err := l.browser.open(l.cfg)
	if err != nil {
		log.Warn("window launch failed", "err", err)
		return err
	}
	if err := l.browser.navigate(tabCtx, l.cfg.URL); err != nil {
		cancel()
		log.Warn("window launch failed", "err", err)
		return err
	}
	l.tabCtx = tabCtx
	l.cancel = cancel
	log.Info("window launched", "url", l.cfg.URL, "width", l.cfg.Width, "height", l.cfg.Height)
	return nil
}

// Close shuts the browser down.
func (l *Launcher) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
		l.tabCtx = nil
	}
}

type chromeBrowser struct{}

func (chromeBrowser) open(cfg Config) (context.Context, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("app", cfg.URL),
		chromedp.WindowSize(cfg.Width, cfg.Height),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		tabCancel()
		allocCancel()
	}
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, err
	}
	return tabCtx, cancel, nil
}

func (chromeBrowser) navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx, chromedp.Navigate(url))
}
