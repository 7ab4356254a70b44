// internal/config/config_test.go
package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/ingestkit/internal/utils"
)

func TestLoadFromBytes(t *testing.T) {
	configYAML := `
mode: balanced
cache:
  default_ttl: 2m
  max_size: 300
pool:
  max_connections_per_host: 4
rate_limit:
  base_rate: 5
  window: 2s
concurrency:
  adaptive: false
`
	cfg, err := LoadFromBytes([]byte(configYAML))
	require.NoError(t, err)

	assert.Equal(t, ModeBalanced, cfg.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 300, cfg.Cache.MaxSize)
	assert.Equal(t, 4, cfg.Pool.MaxConnectionsPerHost)
	assert.Equal(t, 5.0, cfg.RateLimit.BaseRate)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.Window)
	assert.False(t, cfg.Concurrency.AdaptiveEnabled(), "explicit false must survive defaults")

	// untouched values come from the balanced preset
	assert.Equal(t, 50, cfg.Batch.BaseSize)
	assert.Equal(t, 1.5, cfg.RateLimit.BurstMultiplier)
}

func TestLoadFromBytes_DisableIdle(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("pool:\n  max_connections_per_host: 0\n  disable_idle: true\n"))
	require.NoError(t, err)

	// zero still takes the preset; only the flag turns retention off
	assert.Equal(t, 10, cfg.Pool.MaxConnectionsPerHost)
	assert.True(t, cfg.Pool.DisableIdle)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: throughput\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeThroughput, cfg.Mode)
	assert.Equal(t, 200, cfg.Batch.BaseSize)
	assert.Equal(t, 64, cfg.Concurrency.Max)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeMissingConfig, utils.CodeOf(err))
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code utils.ErrorCode
	}{
		{"empty", "   \n", utils.ErrCodeMissingConfig},
		{"syntax", "cache: [unclosed", utils.ErrCodeConfigSyntax},
		{"unknown mode", "mode: turbo", utils.ErrCodeInvalidConfig},
		{"negative ttl", "cache:\n  default_ttl: -1s", utils.ErrCodeInvalidConfig},
		{"base above max", "batch:\n  base_size: 100\n  max_size: 10", utils.ErrCodeInvalidConfig},
		{"min above max", "concurrency:\n  min: 30\n  max: 10", utils.ErrCodeInvalidConfig},
		{"burst below one", "rate_limit:\n  burst_multiplier: 0.5", utils.ErrCodeInvalidConfig},
		{"fast slower than slow", "batch:\n  fast_threshold: 10s\n  slow_threshold: 1s", utils.ErrCodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, tt.code, utils.CodeOf(err))
		})
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := Default()
	cfg.Cache.MaxSize = -1
	cfg.RateLimit.BaseRate = -2

	result := cfg.Check()
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)

	err := cfg.Validate()
	var se *utils.StructuredError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Context["violations"])
}

func TestExpandEnvironmentVariables(t *testing.T) {
	t.Setenv("INGEST_RATE", "25")

	cfg, err := LoadFromBytes([]byte("rate_limit:\n  base_rate: ${INGEST_RATE}\ncache:\n  max_size: ${INGEST_MISSING:-42}\n"))
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.RateLimit.BaseRate)
	assert.Equal(t, 42, cfg.Cache.MaxSize)
}

func TestModePresets(t *testing.T) {
	memory := ForMode(ModeMemoryFirst)
	speed := ForMode(ModeSpeedFirst)
	balanced := Default()

	assert.Less(t, memory.Cache.MaxSize, balanced.Cache.MaxSize)
	assert.Less(t, memory.Memory.ThresholdMB, balanced.Memory.ThresholdMB)
	assert.Greater(t, speed.Cache.DefaultTTL, balanced.Cache.DefaultTTL)
	assert.Greater(t, speed.Concurrency.Max, balanced.Concurrency.Max)

	for _, mode := range []Mode{ModeSpeedFirst, ModeMemoryFirst, ModeBalanced, ModeThroughput} {
		assert.NoError(t, ForMode(mode).Validate(), "preset %s must be valid", mode)
	}
}

func TestGenerateTemplate(t *testing.T) {
	assert.Equal(t, ModeMemoryFirst, GenerateTemplate("Memory_First").Mode)
	assert.Equal(t, ModeBalanced, GenerateTemplate("unknown").Mode)

	var buf bytes.Buffer
	require.NoError(t, SaveToWriter(GenerateTemplate("throughput"), &buf))

	reloaded, err := LoadFromBytes(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ModeThroughput, reloaded.Mode)
	assert.Equal(t, 2000, reloaded.Batch.MaxSize)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  base_rate: 5\n"), 0o644))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	updates := make(chan *Config, 4)
	w.OnChange(func(cfg *Config) { updates <- cfg })

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  base_rate: 7\n"), 0o644))

	select {
	case cfg := <-updates:
		assert.Equal(t, 7.0, cfg.RateLimit.BaseRate)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload after writing the config file")
	}
}
