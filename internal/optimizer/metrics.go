// internal/optimizer/metrics.go
package optimizer

import (
	"time"

	"github.com/valpere/ingestkit/internal/batch"
	"github.com/valpere/ingestkit/internal/cache"
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/memory"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/ratelimit"
	"github.com/valpere/ingestkit/internal/utils"
)

// Recorder receives events from the service. Implementations must be safe
// for concurrent use.
type Recorder interface {
	TaskStarted(service string)
	TaskFinished(service string, d time.Duration, err error)
	RateLimitWait(service string, d time.Duration)
	ConcurrencyWidth(width int)
	CacheLookup(namespace string, hit bool)
	Observe(snap Snapshot)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) TaskStarted(string)                       {}
func (NopRecorder) TaskFinished(string, time.Duration, error) {}
func (NopRecorder) RateLimitWait(string, time.Duration)      {}
func (NopRecorder) ConcurrencyWidth(int)                     {}
func (NopRecorder) CacheLookup(string, bool)                 {}
func (NopRecorder) Observe(Snapshot)                         {}

// ConcurrencyStats describes the gate.
type ConcurrencyStats struct {
	LastWidth    int   `json:"last_width"`
	InFlight     int64 `json:"in_flight"`
	PeakInFlight int64 `json:"peak_in_flight"`
	Runs         int64 `json:"runs"`
}

// Snapshot aggregates the metrics of every component.
type Snapshot struct {
	Timestamp   time.Time                         `json:"timestamp"`
	Mode        config.Mode                       `json:"mode"`
	Cache       cache.Stats                       `json:"cache"`
	Pool        map[string]pool.ServiceStats      `json:"pool"`
	Memory      memory.Stats                      `json:"memory"`
	RateLimits  map[string]ratelimit.ServiceStats `json:"rate_limits"`
	Batches     map[string]batch.Stats            `json:"batches"`
	Concurrency ConcurrencyStats                  `json:"concurrency"`
	Throughput  utils.PerformanceSnapshot         `json:"throughput"`
}

// Metrics samples memory and returns a snapshot of all components.
func (s *Service) Metrics() Snapshot {
	s.memory.CurrentUsageMB()

	s.mu.RLock()
	mode := s.cfg.Mode
	s.mu.RUnlock()

	return Snapshot{
		Timestamp:  time.Now(),
		Mode:       mode,
		Cache:      s.cache.Stats(),
		Pool:       s.pool.Stats(),
		Memory:     s.memory.Stats(),
		RateLimits: s.limiter.Stats(),
		Batches:    s.batches.AllStats(),
		Concurrency: ConcurrencyStats{
			LastWidth:    int(s.lastWidth.Load()),
			InFlight:     s.inFlight.Load(),
			PeakInFlight: s.peak.Load(),
			Runs:         s.runs.Load(),
		},
		Throughput: s.throughput.GetSnapshot(),
	}
}
