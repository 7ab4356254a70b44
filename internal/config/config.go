// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/ingestkit/internal/utils"
)

// Default returns the balanced configuration.
func Default() *Config {
	cfg := &Config{Mode: ModeBalanced}
	ApplyDefaults(cfg)
	return cfg
}

// ForMode returns the defaults for mode with its preset applied.
func ForMode(mode Mode) *Config {
	cfg := &Config{Mode: mode}
	ApplyDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, utils.NewError(utils.ErrCodeMissingConfig, "configuration filename cannot be empty").Build()
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.WrapError(err, utils.ErrCodeMissingConfig,
				fmt.Sprintf("configuration file not found: %s", filename))
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML, expands ${VAR} references, applies the mode
// preset and defaults, then validates.
func LoadFromBytes(data []byte) (*Config, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, utils.NewError(utils.ErrCodeMissingConfig, "configuration data cannot be empty").Build()
	}

	expanded := expandEnvironmentVariables(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, utils.WrapError(err, utils.ErrCodeConfigSyntax, "failed to parse YAML configuration")
	}

	ApplyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToWriter writes cfg as YAML.
func SaveToWriter(cfg *Config, writer io.Writer) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnvironmentVariables replaces ${VAR} and ${VAR:-default}.
func expandEnvironmentVariables(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(parts[1]); ok {
			return value
		}
		return parts[2]
	})
}

// ApplyDefaults fills zero values, first from the mode preset and then from
// the balanced defaults. Explicit values are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeBalanced
	}
	applyPreset(cfg, cfg.Mode)
	applyPreset(cfg, ModeBalanced)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 5
	}
	if cfg.CircuitBreaker.ResetTimeout == 0 {
		cfg.CircuitBreaker.ResetTimeout = 30 * time.Second
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "ingestkit"
	}
	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 30 * time.Second
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "ingestkit/1.0"
	}
	if cfg.Fetch.CacheTTL == 0 {
		cfg.Fetch.CacheTTL = 10 * time.Minute
	}
	if cfg.Fetch.MaxBody == 0 {
		cfg.Fetch.MaxBody = 10 << 20
	}
}

// preset holds the values a mode contributes.
type preset struct {
	cacheTTL        time.Duration
	cacheSize       int
	poolIdle        int
	batchBase       int
	batchMax        int
	batchTimeout    time.Duration
	slow, fast      time.Duration
	concMin         int
	concMax         int
	concHard        int
	adaptive        bool
	cpuHigh, cpuLow float64
	baseRate        float64
	burst           float64
	window          time.Duration
	memThreshold    float64
	gcInterval      time.Duration
	maintenance     time.Duration
}

var presets = map[Mode]preset{
	ModeBalanced: {
		cacheTTL: 5 * time.Minute, cacheSize: 1000, poolIdle: 10,
		batchBase: 50, batchMax: 500, batchTimeout: 30 * time.Second,
		slow: 5 * time.Second, fast: time.Second,
		concMin: 2, concMax: 20, concHard: 50, adaptive: true, cpuHigh: 80, cpuLow: 30,
		baseRate: 10, burst: 1.5, window: time.Second,
		memThreshold: 512, gcInterval: 5 * time.Minute, maintenance: 30 * time.Second,
	},
	ModeSpeedFirst: {
		cacheTTL: 15 * time.Minute, cacheSize: 5000, poolIdle: 20,
		batchBase: 100, batchMax: 1000, batchTimeout: 15 * time.Second,
		concMin: 4, concMax: 50, concHard: 100,
		baseRate: 20, burst: 2,
		memThreshold: 1024, gcInterval: 10 * time.Minute,
	},
	ModeMemoryFirst: {
		cacheTTL: time.Minute, cacheSize: 200, poolIdle: 3,
		batchBase: 20, batchMax: 100,
		concMin: 1, concMax: 8, concHard: 16,
		memThreshold: 256, gcInterval: time.Minute, maintenance: 10 * time.Second,
	},
	ModeThroughput: {
		cacheTTL: 10 * time.Minute, cacheSize: 2000, poolIdle: 25,
		batchBase: 200, batchMax: 2000, batchTimeout: time.Minute,
		slow: 10 * time.Second, fast: 2 * time.Second,
		concMin: 8, concMax: 64, concHard: 128,
		baseRate: 50, burst: 2,
	},
}

func applyPreset(cfg *Config, mode Mode) {
	p, ok := presets[mode]
	if !ok {
		return
	}
	setDur(&cfg.Cache.DefaultTTL, p.cacheTTL)
	setInt(&cfg.Cache.MaxSize, p.cacheSize)
	setInt(&cfg.Pool.MaxConnectionsPerHost, p.poolIdle)
	setInt(&cfg.Batch.BaseSize, p.batchBase)
	setInt(&cfg.Batch.MaxSize, p.batchMax)
	setDur(&cfg.Batch.Timeout, p.batchTimeout)
	setDur(&cfg.Batch.SlowThreshold, p.slow)
	setDur(&cfg.Batch.FastThreshold, p.fast)
	setInt(&cfg.Concurrency.Min, p.concMin)
	setInt(&cfg.Concurrency.Max, p.concMax)
	setInt(&cfg.Concurrency.HardLimit, p.concHard)
	setFloat(&cfg.Concurrency.CPUHigh, p.cpuHigh)
	setFloat(&cfg.Concurrency.CPULow, p.cpuLow)
	setFloat(&cfg.RateLimit.BaseRate, p.baseRate)
	setFloat(&cfg.RateLimit.BurstMultiplier, p.burst)
	setDur(&cfg.RateLimit.Window, p.window)
	setFloat(&cfg.Memory.ThresholdMB, p.memThreshold)
	setDur(&cfg.Memory.GCInterval, p.gcInterval)
	setDur(&cfg.Memory.MaintenanceInterval, p.maintenance)
	if cfg.Concurrency.Adaptive == nil && p.adaptive {
		adaptive := true
		cfg.Concurrency.Adaptive = &adaptive
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 && v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 && v != 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v time.Duration) {
	if *dst == 0 && v != 0 {
		*dst = v
	}
}

// GenerateTemplate returns a complete configuration for the named mode,
// falling back to balanced for unknown names.
func GenerateTemplate(mode string) *Config {
	m := Mode(strings.ToLower(strings.TrimSpace(mode)))
	if _, ok := presets[m]; !ok {
		m = ModeBalanced
	}
	return ForMode(m)
}
