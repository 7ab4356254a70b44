// internal/pool/pool.go

// Package pool keeps reusable long-lived resources (HTTP clients, browser
// sessions) per service name. Only idle resources are capped; acquiring
// never waits for capacity.
package pool

import (
	"context"
	"sync"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

// Resource is anything the pool can hand out and eventually close.
type Resource interface {
	Close() error
}

// HealthChecker is implemented by resources that can go stale while idle.
// Unhealthy idle resources are closed instead of being handed out.
type HealthChecker interface {
	Healthy() bool
}

// Factory creates a new resource for a service.
type Factory func(ctx context.Context) (Resource, error)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = utils.NewError(utils.ErrCodePoolClosed, "pool is closed").Build()

// ServiceStats are per-service lifetime counters.
type ServiceStats struct {
	Created int64 `json:"created"`
	Reused  int64 `json:"reused"`
	Closed  int64 `json:"closed"`
	Idle    int   `json:"idle"`
}

type servicePool struct {
	mu    sync.Mutex
	idle  []Resource
	stats ServiceStats
}

// ConnectionPool is a set of independent per-service idle lists.
type ConnectionPool struct {
	maxIdle int

	mu       sync.RWMutex // guards services and closed
	services map[string]*servicePool
	closed   bool

	logger utils.Logger
}

// New creates a pool that retains at most cfg.MaxConnectionsPerHost idle
// resources per service. With DisableIdle set, or a cap of zero when the
// config bypasses ApplyDefaults, nothing is retained.
func New(cfg config.PoolConfig) *ConnectionPool {
	maxIdle := cfg.MaxConnectionsPerHost
	if maxIdle < 0 || cfg.DisableIdle {
		maxIdle = 0
	}
	return &ConnectionPool{
		maxIdle:  maxIdle,
		services: make(map[string]*servicePool),
		logger:   utils.GetLogger("pool"),
	}
}

func (p *ConnectionPool) service(name string) (*servicePool, bool) {
	p.mu.RLock()
	sp, ok := p.services[name]
	closed := p.closed
	p.mu.RUnlock()
	if ok || closed {
		return sp, closed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, true
	}
	if sp, ok = p.services[name]; !ok {
		sp = &servicePool{}
		p.services[name] = sp
	}
	return sp, false
}

// Acquire returns the most recently released idle resource for service, or
// a new one from factory. Factory errors are returned to the caller.
func (p *ConnectionPool) Acquire(ctx context.Context, service string, factory Factory) (Resource, error) {
	sp, closed := p.service(service)
	if closed {
		return nil, ErrPoolClosed
	}

	if r := sp.takeIdle(p.logger.WithField("service", service)); r != nil {
		return r, nil
	}

	r, err := factory(ctx)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeResourceCreation, "failed to create resource").
			WithCause(err).
			WithContext("service", service).
			WithRetryable(utils.IsRetryableError(err)).
			Build()
	}

	sp.mu.Lock()
	sp.stats.Created++
	sp.mu.Unlock()
	return r, nil
}

// takeIdle pops idle resources until a healthy one is found.
func (sp *servicePool) takeIdle(logger utils.Logger) Resource {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for n := len(sp.idle); n > 0; n = len(sp.idle) {
		r := sp.idle[n-1]
		sp.idle[n-1] = nil
		sp.idle = sp.idle[:n-1]

		if hc, ok := r.(HealthChecker); ok && !hc.Healthy() {
			if err := r.Close(); err != nil {
				logger.Warnf("failed to close unhealthy resource: %v", err)
			}
			sp.stats.Closed++
			continue
		}
		sp.stats.Reused++
		return r
	}
	return nil
}

// Release returns r to the idle list for service, or closes it when the
// list is full or the pool has been closed.
func (p *ConnectionPool) Release(service string, r Resource) {
	if r == nil {
		return
	}

	sp, closed := p.service(service)
	if closed {
		if err := r.Close(); err != nil {
			p.logger.Warnf("failed to close resource for %s after shutdown: %v", service, err)
		}
		return
	}

	sp.mu.Lock()
	if len(sp.idle) < p.maxIdle {
		sp.idle = append(sp.idle, r)
		sp.mu.Unlock()
		return
	}
	sp.stats.Closed++
	sp.mu.Unlock()

	if err := r.Close(); err != nil {
		p.logger.WithField("service", service).Warnf("failed to close overflow resource: %v", err)
	}
}

// Drain closes every idle resource across all services. The pool stays
// usable.
func (p *ConnectionPool) Drain() {
	p.mu.RLock()
	names := make([]string, 0, len(p.services))
	pools := make([]*servicePool, 0, len(p.services))
	for name, sp := range p.services {
		names = append(names, name)
		pools = append(pools, sp)
	}
	p.mu.RUnlock()

	closed := 0
	for i, sp := range pools {
		sp.mu.Lock()
		idle := sp.idle
		sp.idle = nil
		sp.stats.Closed += int64(len(idle))
		sp.mu.Unlock()

		for _, r := range idle {
			if err := r.Close(); err != nil {
				p.logger.WithField("service", names[i]).Warnf("failed to close idle resource: %v", err)
			}
		}
		closed += len(idle)
	}
	if closed > 0 {
		p.logger.Infof("drained %d idle resources", closed)
	}
}

// Close drains the pool and refuses further acquisitions. It is safe to
// call more than once.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.Drain()
	return nil
}

// IdleCount returns the number of idle resources held for service.
func (p *ConnectionPool) IdleCount(service string) int {
	p.mu.RLock()
	sp, ok := p.services[service]
	p.mu.RUnlock()
	if !ok {
		return 0
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.idle)
}

// Stats returns counters keyed by service name.
func (p *ConnectionPool) Stats() map[string]ServiceStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]ServiceStats, len(p.services))
	for name, sp := range p.services {
		sp.mu.Lock()
		st := sp.stats
		st.Idle = len(sp.idle)
		sp.mu.Unlock()
		out[name] = st
	}
	return out
}
