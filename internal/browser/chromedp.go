// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/utils"
)

// ChromeSession is one browser process with a single tab. It implements
// pool.Resource and pool.HealthChecker.
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         Config

	mu     sync.Mutex
	stats  SessionStats
	broken bool
}

var (
	_ pool.Resource      = (*ChromeSession)(nil)
	_ pool.HealthChecker = (*ChromeSession)(nil)
	_ Renderer           = (*ChromeSession)(nil)
)

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // containers
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	return opts
}

// NewSession launches a browser and opens its tab. The browser outlives ctx;
// it is stopped by Close.
func NewSession(ctx context.Context, cfg Config) (*ChromeSession, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	s := &ChromeSession{ctx: tabCtx, cancel: cancel, allocCancel: allocCancel, cfg: cfg}

	// The first Run starts the browser.
	startCtx, stop := s.runContext(ctx)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return s, nil
}

// runContext derives a context from the tab that also ends with ctx or the
// render timeout.
func (s *ChromeSession) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(s.ctx, s.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Render navigates to url and returns the document's outer HTML.
func (s *ChromeSession) Render(ctx context.Context, url string) (string, error) {
	start := time.Now()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if s.cfg.WaitForElement != "" {
		tasks = append(tasks, chromedp.WaitVisible(s.cfg.WaitForElement))
	}
	if s.cfg.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(s.cfg.WaitDelay))
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	runCtx, stop := s.runContext(ctx)
	defer stop()
	err := chromedp.Run(runCtx, tasks)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Errors++
		// A timed-out tab may still be mid-navigation.
		s.broken = true
		return "", utils.NewError(utils.ErrCodeFetchFailed, fmt.Sprintf("render %s failed", url)).
			WithCause(err).
			WithContext("url", url).
			WithRetryable(true).
			Build()
	}
	s.stats.PagesLoaded++
	s.stats.AverageLoadTime += (elapsed - s.stats.AverageLoadTime) / time.Duration(s.stats.PagesLoaded)
	return html, nil
}

// Healthy reports whether the session can be reused.
func (s *ChromeSession) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken || s.ctx.Err() != nil {
		return false
	}
	return s.cfg.MaxPages <= 0 || s.stats.PagesLoaded < s.cfg.MaxPages
}

// Stats returns the session counters.
func (s *ChromeSession) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close stops the tab and the browser process.
func (s *ChromeSession) Close() error {
	s.cancel()
	s.allocCancel()
	return nil
}
