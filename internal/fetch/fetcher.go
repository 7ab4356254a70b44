// internal/fetch/fetcher.go

// Package fetch downloads HTML pages through the optimization layer: pooled
// HTTP clients per host, per-host rate limits, a bounded concurrency gate
// and a page cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/utils"
)

// CacheNamespace is the cache namespace fetched pages are stored under.
const CacheNamespace = "page"

// Page is a fetched and parsed document. Cached pages are shared between
// callers and must not be modified.
type Page struct {
	URL       string    `json:"url"`
	Host      string    `json:"host"`
	Status    int       `json:"status"`
	Title     string    `json:"title"`
	Links     []string  `json:"links"`
	Bytes     int       `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Size reports the page's approximate footprint for cache accounting.
func (p *Page) Size() int {
	n := len(p.URL) + len(p.Title) + 64
	for _, l := range p.Links {
		n += len(l)
	}
	return n
}

// Result pairs a requested URL with its page or error.
type Result struct {
	URL  string `json:"url"`
	Page *Page  `json:"page,omitempty"`
	Err  error  `json:"-"`
}

// clientSession is a pooled HTTP client bound to one host.
type clientSession struct {
	client *http.Client
}

func (c *clientSession) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Fetcher fetches pages through an optimizer.Service.
type Fetcher struct {
	svc       *optimizer.Service
	cfg       config.FetchConfig
	transport http.RoundTripper
	logger    utils.Logger
}

// New creates a fetcher. Zero fields of cfg take the service's fetch
// settings.
func New(svc *optimizer.Service, cfg config.FetchConfig) *Fetcher {
	defaults := svc.Config().Fetch
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaults.MaxBody
	}
	return &Fetcher{
		svc:       svc,
		cfg:       cfg,
		transport: http.DefaultTransport,
		logger:    utils.GetLogger("fetch"),
	}
}

func (f *Fetcher) clientFactory() pool.Factory {
	return func(ctx context.Context) (pool.Resource, error) {
		transport := f.transport
		if t, ok := transport.(*http.Transport); ok {
			transport = t.Clone()
		}
		return &clientSession{client: &http.Client{Timeout: f.cfg.Timeout, Transport: transport}}, nil
	}
}

// Fetch returns the page at rawURL, from the cache when it is fresh. URLs
// that normalize to the same form share one cache entry.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	key, err := utils.NormalizeURL(u.String())
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeInvalidInput, fmt.Sprintf("invalid URL %q", rawURL))
	}

	v, err := f.svc.CachedCall(ctx, CacheNamespace, key, nil, f.cfg.CacheTTL, func(ctx context.Context) (any, error) {
		return f.download(ctx, u)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, utils.NewError(utils.ErrCodeInvalidInput, fmt.Sprintf("invalid URL %q", rawURL)).
			WithCause(err).
			Build()
	}
	u.Fragment = ""
	return u, nil
}

func (f *Fetcher) download(ctx context.Context, u *url.URL) (*Page, error) {
	p := f.svc.Pool()
	r, err := p.Acquire(ctx, u.Host, f.clientFactory())
	if err != nil {
		return nil, err
	}
	defer p.Release(u.Host, r)
	client := r.(*clientSession).client

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeInvalidInput, "failed to build request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeFetchFailed, fmt.Sprintf("GET %s failed", u)).
			WithCause(err).
			WithContext("url", u.String()).
			WithRetryable(true).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, utils.NewError(utils.ErrCodeFetchFailed, fmt.Sprintf("GET %s returned %d", u, resp.StatusCode)).
			WithContext("url", u.String()).
			WithContext("status", resp.StatusCode).
			WithRetryable(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500).
			Build()
	}

	if ct := resp.Header.Get("Content-Type"); !utils.IsTextContent(ct) {
		return nil, utils.NewError(utils.ErrCodeParsing, fmt.Sprintf("GET %s returned unsupported content type %q", u, ct)).
			WithContext("url", u.String()).
			Build()
	}

	counter := &countingReader{r: io.LimitReader(resp.Body, f.cfg.MaxBody)}
	title, links, err := parseDocument(counter, resp.Request.URL)
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeParsing, fmt.Sprintf("failed to parse %s", u))
	}

	f.logger.WithFields(map[string]interface{}{
		"url":   u.String(),
		"bytes": counter.n,
		"links": len(links),
		"title": utils.TruncateString(title, 80),
	}).Debug("page fetched")

	return &Page{
		URL:       u.String(),
		Host:      u.Host,
		Status:    resp.StatusCode,
		Title:     title,
		Links:     links,
		Bytes:     counter.n,
		FetchedAt: time.Now(),
	}, nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// FetchAll fetches urls through the service's concurrency gate, using each
// URL's host as its rate-limit service. Results are in input order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Result {
	tasks := make([]optimizer.Task, len(urls))
	names := make([]string, len(urls))
	for i, raw := range urls {
		if u, err := url.Parse(raw); err == nil {
			names[i] = u.Host
		}
		tasks[i] = func(ctx context.Context) (any, error) {
			return f.Fetch(ctx, raw)
		}
	}

	results := make([]Result, len(urls))
	for i, tr := range f.svc.RunConcurrently(ctx, tasks, names) {
		results[i] = Result{URL: urls[i], Err: tr.Err}
		if page, ok := tr.Value.(*Page); ok && tr.Err == nil {
			results[i].Page = page
		}
	}
	return results
}

// FetchLinked fetches up to limit of page's links, at most width at a time,
// honouring per-host rate limits. It stops at the first failure.
func (f *Fetcher) FetchLinked(ctx context.Context, page *Page, limit, width int) ([]*Page, error) {
	links := page.Links
	if limit >= 0 && len(links) > limit {
		links = links[:limit]
	}
	if width <= 0 {
		width = f.svc.CalculateOptimalConcurrency(len(links))
	}

	pages := make([]*Page, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(width)

	for i, link := range links {
		g.Go(func() error {
			u, err := parseURL(link)
			if err != nil {
				return err
			}
			limiter := f.svc.Limiter()
			if err := limiter.Acquire(gctx, u.Host); err != nil {
				return err
			}
			p, err := f.Fetch(gctx, link)
			if err != nil {
				limiter.RecordError(u.Host)
				return err
			}
			limiter.RecordSuccess(u.Host)
			pages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}
