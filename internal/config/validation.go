// internal/config/validation.go
package config

import (
	"fmt"
	"strings"

	"github.com/valpere/ingestkit/internal/utils"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %s)", e.Field, e.Message, e.Value)
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

func (r *ValidationResult) add(field string, value interface{}, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   fmt.Sprintf("%v", value),
		Message: message,
	})
}

// Check runs every rule and returns all violations.
func (c *Config) Check() *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch c.Mode {
	case ModeSpeedFirst, ModeMemoryFirst, ModeBalanced, ModeThroughput:
	default:
		result.add("mode", c.Mode, "must be one of speed_first, memory_first, balanced, throughput")
	}

	c.validateCache(result)
	c.validatePool(result)
	c.validateBatch(result)
	c.validateConcurrency(result)
	c.validateRateLimit(result)
	c.validateMemory(result)

	return result
}

// Validate returns an INVALID_CONFIG error listing every violation, or nil.
func (c *Config) Validate() error {
	result := c.Check()
	if result.Valid {
		return nil
	}

	messages := make([]string, len(result.Errors))
	for i, e := range result.Errors {
		messages[i] = e.Error()
	}
	return utils.NewError(utils.ErrCodeInvalidConfig, strings.Join(messages, "; ")).
		WithContext("violations", len(result.Errors)).
		WithUserMessage("The optimizer configuration is invalid.").
		Build()
}

func (c *Config) validateCache(result *ValidationResult) {
	if c.Cache.DefaultTTL <= 0 {
		result.add("cache.default_ttl", c.Cache.DefaultTTL, "must be positive")
	}
	if c.Cache.MaxSize <= 0 {
		result.add("cache.max_size", c.Cache.MaxSize, "must be positive")
	}
}

func (c *Config) validatePool(result *ValidationResult) {
	if c.Pool.MaxConnectionsPerHost < 0 {
		result.add("pool.max_connections_per_host", c.Pool.MaxConnectionsPerHost, "cannot be negative")
	}
}

func (c *Config) validateBatch(result *ValidationResult) {
	b := c.Batch
	if b.BaseSize <= 0 {
		result.add("batch.base_size", b.BaseSize, "must be positive")
	}
	if b.MaxSize < b.BaseSize {
		result.add("batch.max_size", b.MaxSize, "must be at least batch.base_size")
	}
	if b.Timeout <= 0 {
		result.add("batch.timeout", b.Timeout, "must be positive")
	}
	if b.FastThreshold <= 0 || b.SlowThreshold <= 0 {
		result.add("batch.fast_threshold", b.FastThreshold, "thresholds must be positive")
	} else if b.FastThreshold >= b.SlowThreshold {
		result.add("batch.fast_threshold", b.FastThreshold, "must be below batch.slow_threshold")
	}
}

func (c *Config) validateConcurrency(result *ValidationResult) {
	cc := c.Concurrency
	if cc.Min <= 0 {
		result.add("concurrency.min", cc.Min, "must be positive")
	}
	if cc.Max < cc.Min {
		result.add("concurrency.max", cc.Max, "must be at least concurrency.min")
	}
	if cc.HardLimit < cc.Max {
		result.add("concurrency.hard_limit", cc.HardLimit, "must be at least concurrency.max")
	}
	if cc.CPULow < 0 || cc.CPUHigh > 100 || cc.CPULow >= cc.CPUHigh {
		result.add("concurrency.cpu_low", cc.CPULow, "must satisfy 0 <= cpu_low < cpu_high <= 100")
	}
}

func (c *Config) validateRateLimit(result *ValidationResult) {
	r := c.RateLimit
	if r.BaseRate <= 0 {
		result.add("rate_limit.base_rate", r.BaseRate, "must be positive")
	}
	if r.BurstMultiplier < 1 {
		result.add("rate_limit.burst_multiplier", r.BurstMultiplier, "must be at least 1")
	}
	if r.Window <= 0 {
		result.add("rate_limit.window", r.Window, "must be positive")
	}
}

func (c *Config) validateMemory(result *ValidationResult) {
	m := c.Memory
	if m.ThresholdMB <= 0 {
		result.add("memory.threshold_mb", m.ThresholdMB, "must be positive")
	}
	if m.GCInterval <= 0 {
		result.add("memory.gc_interval", m.GCInterval, "must be positive")
	}
	if m.MaintenanceInterval <= 0 {
		result.add("memory.maintenance_interval", m.MaintenanceInterval, "must be positive")
	}
}
