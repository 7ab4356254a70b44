package api

import (
	"github.com/valpere/ingestkit/internal/batch"
	"github.com/valpere/ingestkit/internal/cache"
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/fetch"
	"github.com/valpere/ingestkit/internal/memory"
	"github.com/valpere/ingestkit/internal/monitoring"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/ratelimit"
	"github.com/valpere/ingestkit/internal/utils"
)

// Configuration
type (
	Config               = config.Config
	Mode                 = config.Mode
	CacheConfig          = config.CacheConfig
	PoolConfig           = config.PoolConfig
	BatchConfig          = config.BatchConfig
	ConcurrencyConfig    = config.ConcurrencyConfig
	RateLimitConfig      = config.RateLimitConfig
	MemoryConfig         = config.MemoryConfig
	CircuitBreakerConfig = config.CircuitBreakerConfig
	FetchConfig          = config.FetchConfig
)

const (
	ModeSpeedFirst  = config.ModeSpeedFirst
	ModeMemoryFirst = config.ModeMemoryFirst
	ModeBalanced    = config.ModeBalanced
	ModeThroughput  = config.ModeThroughput
)

// Service and its results
type (
	Service           = optimizer.Service
	Option            = optimizer.Option
	Task              = optimizer.Task
	TaskResult        = optimizer.TaskResult
	Loader            = optimizer.Loader
	DedupedQuery      = optimizer.DedupedQuery
	Snapshot          = optimizer.Snapshot
	MaintenanceReport = optimizer.MaintenanceReport
	Recorder          = optimizer.Recorder
	ResourceMonitor   = optimizer.ResourceMonitor
)

// Components
type (
	Cache       = cache.IntelligentCache
	CacheStats  = cache.Stats
	Pool        = pool.ConnectionPool
	Resource    = pool.Resource
	Factory     = pool.Factory
	RateLimiter = ratelimit.AdaptiveRateLimiter
	MemoryStats = memory.Stats
	BatchFunc   = batch.Func[any, any]
	BatchStats  = batch.Stats
)

// Collaborators
type (
	Fetcher            = fetch.Fetcher
	Page               = fetch.Page
	FetchResult        = fetch.Result
	PrometheusRecorder = monitoring.PrometheusRecorder
	MetricsConfig      = monitoring.MetricsConfig
	HealthManager      = monitoring.HealthManager
)

// Errors
type (
	Error     = utils.StructuredError
	ErrorCode = utils.ErrorCode
)
