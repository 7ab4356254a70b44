package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/utils"
)

type fakePage struct {
	html    string
	err     error
	renders int
	closed  bool
}

func (f *fakePage) Render(ctx context.Context, url string) (string, error) {
	f.renders++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf(f.html, url), nil
}

func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

type plainResource struct{}

func (plainResource) Close() error { return nil }

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Headless)
	assert.True(t, cfg.DisableImages)
	assert.Equal(t, 1920, cfg.ViewportWidth)
	assert.Equal(t, 1080, cfg.ViewportHeight)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 100, cfg.MaxPages)
}

func TestAllocatorOptions(t *testing.T) {
	assert.Len(t, allocatorOptions(Config{}), 4)
	assert.Len(t, allocatorOptions(DefaultConfig()), 7)

	cfg := DefaultConfig()
	cfg.UserAgent = "ingestkit-test"
	cfg.UserDataDir = t.TempDir()
	assert.Len(t, allocatorOptions(cfg), 9)
}

func TestChromeSession_Healthy(t *testing.T) {
	newSession := func(maxPages int) (*ChromeSession, context.CancelFunc) {
		ctx, cancel := context.WithCancel(context.Background())
		return &ChromeSession{ctx: ctx, cancel: cancel, allocCancel: func() {}, cfg: Config{MaxPages: maxPages}}, cancel
	}

	s, _ := newSession(2)
	assert.True(t, s.Healthy())
	s.stats.PagesLoaded = 2
	assert.False(t, s.Healthy(), "recycled after MaxPages renders")

	unlimited, _ := newSession(0)
	unlimited.stats.PagesLoaded = 10_000
	assert.True(t, unlimited.Healthy())

	broken, _ := newSession(0)
	broken.broken = true
	assert.False(t, broken.Healthy())

	closed, _ := newSession(0)
	require.NoError(t, closed.Close())
	assert.False(t, closed.Healthy())
}

func TestFetchRendered_ReusesPooledSession(t *testing.T) {
	p := pool.New(config.PoolConfig{MaxConnectionsPerHost: 2})
	defer p.Close()

	page := &fakePage{html: "<html><body>%s</body></html>"}
	created := 0
	factory := func(ctx context.Context) (pool.Resource, error) {
		created++
		return page, nil
	}

	for i := 0; i < 3; i++ {
		html, err := FetchRendered(context.Background(), p, factory, "https://example.com/a")
		require.NoError(t, err)
		assert.Contains(t, html, "https://example.com/a")
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 3, page.renders)
	assert.Equal(t, 1, p.IdleCount(ServiceName))
}

func TestFetchRendered_Errors(t *testing.T) {
	p := pool.New(config.PoolConfig{MaxConnectionsPerHost: 2})
	defer p.Close()

	_, err := FetchRendered(context.Background(), p, func(ctx context.Context) (pool.Resource, error) {
		return nil, errors.New("chrome not found")
	}, "https://example.com")
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeResourceCreation, utils.CodeOf(err))

	_, err = FetchRendered(context.Background(), pool.New(config.PoolConfig{}), func(ctx context.Context) (pool.Resource, error) {
		return plainResource{}, nil
	}, "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot render")

	renderErr := utils.NewError(utils.ErrCodeFetchFailed, "render failed").Build()
	_, err = FetchRendered(context.Background(), p, func(ctx context.Context) (pool.Resource, error) {
		return &fakePage{err: renderErr}, nil
	}, "https://example.com")
	assert.ErrorIs(t, err, renderErr)
}

func TestChromeSession_RendersPage(t *testing.T) {
	if testing.Short() || os.Getenv("INGESTKIT_CHROME_TESTS") == "" {
		t.Skip("set INGESTKIT_CHROME_TESTS=1 to run against a local Chrome")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="out"></div><script>document.getElementById("out").textContent = "rendered"</script></body></html>`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Second
	cfg.MaxPages = 1

	s, err := NewSession(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	html, err := s.Render(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "rendered")
	assert.Equal(t, 1, s.Stats().PagesLoaded)
	assert.False(t, s.Healthy())
}
