// pkg/api/api.go

// Package api is the public surface of the optimization layer. Ingestion
// code outside this module builds a Service here and routes its work
// through it.
package api

import (
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/fetch"
	"github.com/valpere/ingestkit/internal/monitoring"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/utils"
)

// DefaultConfig returns the balanced configuration.
func DefaultConfig() *Config { return config.Default() }

// ConfigForMode returns the defaults for mode.
func ConfigForMode(mode Mode) *Config { return config.ForMode(mode) }

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.LoadFromFile(path) }

// NewService validates cfg and builds a Service. A nil cfg selects the
// balanced defaults.
func NewService(cfg *Config, opts ...Option) (*Service, error) {
	return optimizer.New(cfg, opts...)
}

// WithRecorder reports service events to r.
func WithRecorder(r Recorder) Option { return optimizer.WithRecorder(r) }

// WithResourceMonitor replaces the pressure and CPU source used for sizing.
func WithResourceMonitor(m ResourceMonitor) Option { return optimizer.WithResourceMonitor(m) }

// NewPrometheusRecorder returns a recorder on its own registry.
func NewPrometheusRecorder(cfg MetricsConfig) *PrometheusRecorder {
	return monitoring.NewPrometheusRecorder(cfg)
}

// NewFetcher returns a page fetcher backed by svc. Zero fields of cfg fall
// back to the service configuration.
func NewFetcher(svc *Service, cfg FetchConfig) *Fetcher { return fetch.New(svc, cfg) }

// DeduplicateQueries collapses queries that are equal up to key order.
func DeduplicateQueries(queries []map[string]any) []DedupedQuery {
	return optimizer.DeduplicateQueries(queries)
}

// CodeOf returns the code carried by err.
func CodeOf(err error) ErrorCode { return utils.CodeOf(err) }

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool { return utils.IsRetryableError(err) }
