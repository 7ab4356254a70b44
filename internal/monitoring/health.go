// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/valpere/ingestkit/internal/memory"
	"github.com/valpere/ingestkit/internal/ratelimit"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck is a named probe. Critical checks make the whole system
// unhealthy when they fail; the rest only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Check    func(ctx context.Context) HealthCheckResult
}

// HealthCheckResult is the outcome of one probe.
type HealthCheckResult struct {
	Name     string                 `json:"name"`
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Critical bool                   `json:"critical"`
	Checked  time.Time              `json:"checked"`
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SystemHealth is the aggregate served by the health endpoint.
type SystemHealth struct {
	Status     HealthStatus        `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	Version    string              `json:"version,omitempty"`
	Uptime     time.Duration       `json:"uptime"`
	Goroutines int                 `json:"goroutines"`
	Checks     []HealthCheckResult `json:"checks"`
}

// HealthManager runs registered checks on demand.
type HealthManager struct {
	mu             sync.RWMutex
	checks         map[string]HealthCheck
	version        string
	started        time.Time
	defaultTimeout time.Duration
}

// NewHealthManager creates an empty manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checks:         make(map[string]HealthCheck),
		version:        version,
		started:        time.Now(),
		defaultTimeout: 5 * time.Second,
	}
}

// RegisterCheck adds or replaces a check by name.
func (hm *HealthManager) RegisterCheck(check HealthCheck) {
	if check.Timeout <= 0 {
		check.Timeout = hm.defaultTimeout
	}
	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

// RemoveCheck removes a check by name.
func (hm *HealthManager) RemoveCheck(name string) {
	hm.mu.Lock()
	delete(hm.checks, name)
	hm.mu.Unlock()
}

// Check runs every check concurrently and aggregates the results.
func (hm *HealthManager) Check(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	status := HealthStatusHealthy
	for _, r := range results {
		switch {
		case r.Status == HealthStatusUnhealthy && r.Critical:
			status = HealthStatusUnhealthy
		case r.Status != HealthStatusHealthy && status == HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(hm.started),
		Goroutines: runtime.NumGoroutine(),
		Checks:     results,
	}
}

func runCheck(ctx context.Context, c HealthCheck) (result HealthCheckResult) {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = HealthCheckResult{Status: HealthStatusUnhealthy, Error: fmt.Sprintf("check panicked: %v", r)}
		}
		result.Name = c.Name
		result.Critical = c.Critical
		result.Checked = start
		result.Duration = time.Since(start)
	}()

	if c.Check == nil {
		return HealthCheckResult{Status: HealthStatusUnknown, Message: "no check function"}
	}
	return c.Check(checkCtx)
}

// Handler serves Check as JSON: 503 when unhealthy, 200 otherwise.
func (hm *HealthManager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler always answers 200 while the process can serve requests.
func (hm *HealthManager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": HealthStatusHealthy,
			"uptime": time.Since(hm.started).String(),
		})
	}
}

// MemoryHealthCheck degrades when resident memory is above the manager's
// threshold.
func MemoryHealthCheck(m *memory.Manager) HealthCheck {
	return HealthCheck{
		Name: "memory",
		Check: func(ctx context.Context) HealthCheckResult {
			usage := m.CurrentUsageMB()
			st := m.Stats()
			metadata := map[string]interface{}{
				"current_mb":   usage,
				"peak_mb":      st.PeakMB,
				"threshold_mb": st.ThresholdMB,
				"source":       st.Source,
			}
			if usage > st.ThresholdMB {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("memory %.1fMB above threshold %.1fMB", usage, st.ThresholdMB),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{
				Status:   HealthStatusHealthy,
				Message:  fmt.Sprintf("memory %.1fMB", usage),
				Metadata: metadata,
			}
		},
	}
}

// RateLimitHealthCheck degrades while any service's error rate is high
// enough for the limiter to damp it.
func RateLimitHealthCheck(l *ratelimit.AdaptiveRateLimiter) HealthCheck {
	return HealthCheck{
		Name: "rate_limits",
		Check: func(ctx context.Context) HealthCheckResult {
			var damped []string
			for service, st := range l.Stats() {
				if st.ErrorRate > ratelimit.HighErrorThreshold {
					damped = append(damped, service)
				}
			}
			if len(damped) > 0 {
				sort.Strings(damped)
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("%d service(s) damped by error rate", len(damped)),
					Metadata: map[string]interface{}{"damped": damped},
				}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Message: "error rates nominal"}
		},
	}
}

// GoroutineHealthCheck degrades above maxGoroutines.
func GoroutineHealthCheck(maxGoroutines int) HealthCheck {
	return HealthCheck{
		Name: "goroutines",
		Check: func(ctx context.Context) HealthCheckResult {
			count := runtime.NumGoroutine()
			metadata := map[string]interface{}{
				"goroutine_count": count,
				"max_allowed":     maxGoroutines,
			}
			if count > maxGoroutines {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("high goroutine count: %d", count),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{Status: HealthStatusHealthy, Metadata: metadata}
		},
	}
}

// PingHealthCheck wraps a connectivity probe; a returned error marks the
// check unhealthy.
func PingHealthCheck(name string, critical bool, ping func(ctx context.Context) error) HealthCheck {
	return HealthCheck{
		Name:     name,
		Critical: critical,
		Check: func(ctx context.Context) HealthCheckResult {
			if err := ping(ctx); err != nil {
				return HealthCheckResult{Status: HealthStatusUnhealthy, Message: "ping failed", Error: err.Error()}
			}
			return HealthCheckResult{Status: HealthStatusHealthy}
		},
	}
}
