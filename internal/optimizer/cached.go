// internal/optimizer/cached.go
package optimizer

import (
	"context"
	"time"

	"github.com/valpere/ingestkit/internal/cache"
	"github.com/valpere/ingestkit/internal/utils"
)

// Loader produces a value on a cache miss.
type Loader func(ctx context.Context) (any, error)

// CachedCall returns the cached value for (namespace, identifier, params) or
// runs load and caches its result for ttl (zero selects the cache default).
// Concurrent misses for the same key share a single load. The load is
// detached from the caller that started it and bounded by fetch.timeout;
// each caller stops waiting when its own ctx ends. Errors are not cached.
func (s *Service) CachedCall(ctx context.Context, namespace, identifier string, params map[string]any, ttl time.Duration, load Loader) (any, error) {
	if v, ok := s.cache.Get(namespace, identifier, params); ok {
		s.recorder.CacheLookup(namespace, true)
		return v, nil
	}
	s.recorder.CacheLookup(namespace, false)

	s.mu.RLock()
	bound := s.cfg.Fetch.Timeout
	s.mu.RUnlock()

	key := cache.Key(namespace, identifier, params)
	ch := s.flight.DoChan(key, func() (any, error) {
		var (
			loadCtx  context.Context
			cancel   context.CancelFunc
			detached = context.WithoutCancel(ctx)
		)
		if bound > 0 {
			loadCtx, cancel = context.WithTimeout(detached, bound)
		} else {
			loadCtx, cancel = context.WithCancel(detached)
		}
		defer cancel()

		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			s.cache.Set(namespace, identifier, v, params, ttl)
		} else {
			s.cache.Set(namespace, identifier, v, params)
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debugf("shared load for %s", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, utils.WrapError(ctx.Err(), utils.ErrCodeContextCanceled, "cached call cancelled")
	}
}
