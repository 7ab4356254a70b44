// internal/browser/session.go
package browser

import (
	"context"
	"fmt"

	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/utils"
)

// SessionFactory returns a pool.Factory that launches Chrome sessions.
func SessionFactory(cfg Config) pool.Factory {
	return func(ctx context.Context) (pool.Resource, error) {
		return NewSession(ctx, cfg)
	}
}

// FetchRendered renders url in a pooled session, creating one with factory
// when none is idle. Sessions go back to the pool afterwards; broken ones
// are dropped on their next acquire.
func FetchRendered(ctx context.Context, p *pool.ConnectionPool, factory pool.Factory, url string) (string, error) {
	r, err := p.Acquire(ctx, ServiceName, factory)
	if err != nil {
		return "", err
	}
	defer p.Release(ServiceName, r)

	renderer, ok := r.(Renderer)
	if !ok {
		return "", utils.NewError(utils.ErrCodeInternal, fmt.Sprintf("pooled %s resource %T cannot render", ServiceName, r)).Build()
	}

	utils.GetLogger("browser").Debugf("rendering %s", url)
	return renderer.Render(ctx, url)
}
