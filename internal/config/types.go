// internal/config/types.go

// Package config provides the configuration surface of the optimization
// layer: cache, pool, batching, concurrency, rate limiting and memory
// settings, plus presets for each optimization mode.
package config

import (
	"time"

	"github.com/valpere/ingestkit/internal/utils"
)

// Mode selects a preset that favours one resource over another.
type Mode string

const (
	ModeSpeedFirst  Mode = "speed_first"
	ModeMemoryFirst Mode = "memory_first"
	ModeBalanced    Mode = "balanced"
	ModeThroughput  Mode = "throughput"
)

// Config is the root configuration of the optimization layer.
type Config struct {
	// Mode picks the preset applied before explicit values.
	Mode Mode `yaml:"mode" json:"mode"`

	Log            utils.LogConfig      `yaml:"log" json:"log"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	Pool           PoolConfig           `yaml:"pool" json:"pool"`
	Batch          BatchConfig          `yaml:"batch" json:"batch"`
	Concurrency    ConcurrencyConfig    `yaml:"concurrency" json:"concurrency"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Memory         MemoryConfig         `yaml:"memory" json:"memory"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Fetch          FetchConfig          `yaml:"fetch" json:"fetch"`
}

// CacheConfig controls the intelligent cache.
type CacheConfig struct {
	// DefaultTTL is used when Set is called without an override.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// MaxSize is the maximum number of entries before LRU eviction.
	MaxSize    int           `yaml:"max_size" json:"max_size"`
}

// PoolConfig controls the connection pool.
type PoolConfig struct {
	// MaxConnectionsPerHost caps idle resources retained per service. Zero
	// takes the mode preset; use DisableIdle to retain nothing.
	MaxConnectionsPerHost int `yaml:"max_connections_per_host" json:"max_connections_per_host"`
	// DisableIdle closes every resource on release.
	DisableIdle bool `yaml:"disable_idle,omitempty" json:"disable_idle,omitempty"`
}

// BatchConfig controls adaptive batch sizing.
type BatchConfig struct {
	BaseSize int           `yaml:"base_size" json:"base_size"`
	MaxSize  int           `yaml:"max_size" json:"max_size"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`

	// SlowThreshold halves the next batch when the running average exceeds it.
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold"`
	// FastThreshold doubles the next batch when the running average is below it.
	FastThreshold time.Duration `yaml:"fast_threshold" json:"fast_threshold"`
}

// ConcurrencyConfig bounds the façade's concurrency gate.
type ConcurrencyConfig struct {
	Min       int `yaml:"min" json:"min"`
	Max       int `yaml:"max" json:"max"`
	HardLimit int `yaml:"hard_limit" json:"hard_limit"`

	// Adaptive is a pointer so an explicit false survives ApplyDefaults.
	Adaptive *bool `yaml:"adaptive,omitempty" json:"adaptive,omitempty"`

	// CPUHigh and CPULow are process CPU percentages (0-100).
	CPUHigh float64 `yaml:"cpu_high" json:"cpu_high"`
	CPULow  float64 `yaml:"cpu_low" json:"cpu_low"`
}

// AdaptiveEnabled reports whether concurrency adapts to memory/CPU pressure.
func (c ConcurrencyConfig) AdaptiveEnabled() bool {
	return c.Adaptive != nil && *c.Adaptive
}

// RateLimitConfig controls the adaptive sliding-window limiter.
type RateLimitConfig struct {
	// BaseRate is requests per second per service.
	BaseRate        float64       `yaml:"base_rate" json:"base_rate"`
	BurstMultiplier float64       `yaml:"burst_multiplier" json:"burst_multiplier"`
	Window          time.Duration `yaml:"window" json:"window"`
}

// MemoryConfig controls the memory manager.
type MemoryConfig struct {
	ThresholdMB         float64       `yaml:"threshold_mb" json:"threshold_mb"`
	GCInterval          time.Duration `yaml:"gc_interval" json:"gc_interval"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval" json:"maintenance_interval"`
}

// CircuitBreakerConfig enables a per-service breaker around concurrent tasks.
type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	MaxFailures  uint32        `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// MetricsConfig controls Prometheus export.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Namespace     string `yaml:"namespace" json:"namespace"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	Path          string `yaml:"path" json:"path"`
}

// FetchConfig controls the HTTP page fetcher built on the optimizer.
type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	MaxBody   int64         `yaml:"max_body" json:"max_body"`
}
