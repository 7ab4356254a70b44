// internal/optimizer/service.go

// Package optimizer is the façade of the optimization layer. A Service owns
// one cache, connection pool, batch processor, rate limiter and memory
// manager, bounds the concurrency of submitted tasks and aggregates their
// metrics.
package optimizer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/valpere/ingestkit/internal/batch"
	"github.com/valpere/ingestkit/internal/cache"
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/memory"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/ratelimit"
	"github.com/valpere/ingestkit/internal/utils"
)

// ResourceMonitor supplies the pressure signals used to size the
// concurrency gate.
type ResourceMonitor interface {
	CheckPressure() bool
	CPUPercent() float64
}

// Service coordinates the optimization components. Construct it once with
// New and share it; it holds no global state.
type Service struct {
	mu  sync.RWMutex
	cfg config.Config

	cache   *cache.IntelligentCache
	pool    *pool.ConnectionPool
	batches *batch.Processor[any, any]
	limiter *ratelimit.AdaptiveRateLimiter
	memory  *memory.Manager

	monitor    ResourceMonitor
	recorder   Recorder
	throughput *utils.PerformanceMetrics
	flight     singleflight.Group

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	inFlight  atomic.Int64
	peak      atomic.Int64
	lastWidth atomic.Int64
	runs      atomic.Int64

	scheduler *cron.Cron
	startOnce sync.Once
	closeOnce sync.Once

	logger utils.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithRecorder sets the metrics backend. The default records nothing.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithResourceMonitor replaces the memory manager as the source of
// pressure and CPU readings.
func WithResourceMonitor(m ResourceMonitor) Option {
	return func(s *Service) {
		if m != nil {
			s.monitor = m
		}
	}
}

// New validates cfg and builds the components. A nil cfg selects the
// balanced defaults.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	config.ApplyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        c,
		cache:      cache.New(c.Cache),
		pool:       pool.New(c.Pool),
		batches:    batch.New[any, any](c.Batch),
		limiter:    ratelimit.New(c.RateLimit),
		memory:     memory.New(c.Memory),
		recorder:   NopRecorder{},
		throughput: utils.NewPerformanceMetrics(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		logger:     utils.GetLogger("optimizer"),
	}
	s.monitor = s.memory
	for _, opt := range opts {
		opt(s)
	}

	// A full cleanup also releases idle connections and expired entries.
	s.memory.OnCleanup(func(full bool) {
		if full {
			s.pool.Drain()
			s.cache.PurgeExpired()
		}
	})

	s.logger.WithFields(map[string]interface{}{
		"mode":            c.Mode,
		"max_concurrency": c.Concurrency.Max,
		"base_rate":       c.RateLimit.BaseRate,
		"cache_size":      c.Cache.MaxSize,
	}).Info("optimization service initialised")
	return s, nil
}

// Cache returns the shared cache.
func (s *Service) Cache() *cache.IntelligentCache { return s.cache }

// Pool returns the shared connection pool.
func (s *Service) Pool() *pool.ConnectionPool { return s.pool }

// Limiter returns the shared rate limiter.
func (s *Service) Limiter() *ratelimit.AdaptiveRateLimiter { return s.limiter }

// Memory returns the memory manager.
func (s *Service) Memory() *memory.Manager { return s.memory }

// BatchProcessor returns the shared batch processor.
func (s *Service) BatchProcessor() *batch.Processor[any, any] { return s.batches }

// Config returns a copy of the active configuration.
func (s *Service) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reconfigure applies the runtime-tunable subset of cfg: rate limits,
// concurrency bounds, batch sizing and the memory threshold. Cache and pool
// sizes only take effect on restart.
func (s *Service) Reconfigure(cfg *config.Config) error {
	if cfg == nil {
		return utils.NewError(utils.ErrCodeMissingConfig, "configuration cannot be nil").Build()
	}
	c := *cfg
	config.ApplyDefaults(&c)
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.cfg
	s.cfg.Mode = c.Mode
	s.cfg.Concurrency = c.Concurrency
	s.cfg.RateLimit.BaseRate = c.RateLimit.BaseRate
	s.cfg.RateLimit.BurstMultiplier = c.RateLimit.BurstMultiplier
	s.cfg.Batch = c.Batch
	s.cfg.Memory.ThresholdMB = c.Memory.ThresholdMB
	s.cfg.CircuitBreaker = c.CircuitBreaker
	s.mu.Unlock()

	s.limiter.SetRates(c.RateLimit.BaseRate, c.RateLimit.BurstMultiplier)
	s.batches.Reconfigure(c.Batch)
	s.memory.SetThreshold(c.Memory.ThresholdMB)

	if c.CircuitBreaker != old.CircuitBreaker {
		s.breakerMu.Lock()
		s.breakers = make(map[string]*gobreaker.CircuitBreaker)
		s.breakerMu.Unlock()
	}
	if c.Cache != old.Cache || c.Pool != old.Pool || c.RateLimit.Window != old.RateLimit.Window {
		s.logger.Warn("cache, pool and rate window changes take effect after restart")
	}

	s.logger.Infof("configuration applied (mode=%s)", c.Mode)
	return nil
}

// Close stops scheduled maintenance and closes pooled resources. It is safe
// to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		scheduler := s.scheduler
		s.mu.Unlock()
		if scheduler != nil {
			<-scheduler.Stop().Done()
		}
		if cerr := s.pool.Close(); cerr != nil {
			err = fmt.Errorf("failed to close pool: %w", cerr)
		}
		s.logger.Info("optimization service closed")
	})
	return err
}
