// internal/browser/types.go

// Package browser renders JavaScript-heavy pages in pooled headless Chrome
// sessions driven by chromedp.
package browser

import (
	"context"
	"time"
)

// ServiceName is the pool service browser sessions are kept under.
const ServiceName = "browser"

// Config defines how sessions are launched and pages are rendered.
type Config struct {
	Headless       bool          `yaml:"headless" json:"headless"`
	UserDataDir    string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitForElement string        `yaml:"wait_for_element,omitempty" json:"wait_for_element,omitempty"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`

	// MaxPages recycles a session after this many renders. Zero means never.
	MaxPages int `yaml:"max_pages" json:"max_pages"`
}

// DefaultConfig returns headless settings with images disabled.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		DisableImages:  true,
		MaxPages:       100,
	}
}

// Renderer loads a URL and returns the rendered document.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// SessionStats contains per-session counters.
type SessionStats struct {
	PagesLoaded     int           `json:"pages_loaded"`
	AverageLoadTime time.Duration `json:"average_load_time"`
	Errors          int           `json:"errors"`
}
