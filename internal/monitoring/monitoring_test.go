package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/ingestkit/internal/batch"
	"github.com/valpere/ingestkit/internal/cache"
	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/memory"
	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/pool"
	"github.com/valpere/ingestkit/internal/ratelimit"
	"github.com/valpere/ingestkit/internal/utils"
)

func TestPrometheusRecorder_TaskEvents(t *testing.T) {
	r := NewPrometheusRecorder(MetricsConfig{})

	r.TaskStarted("api")
	r.TaskStarted("api")
	r.TaskFinished("api", 20*time.Millisecond, nil)
	r.TaskFinished("api", 5*time.Millisecond, utils.NewError(utils.ErrCodeTaskPanic, "boom").Build())
	r.ConcurrencyWidth(8)
	r.CacheLookup("page", true)
	r.CacheLookup("page", false)
	r.CacheLookup("page", false)
	r.RateLimitWait("api", 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("api", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("api", "TASK_PANIC")))
	assert.Zero(t, testutil.ToFloat64(r.tasksInFlight.WithLabelValues("api")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.gateWidth))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("page", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("page", "miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.taskDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.rateLimitWait))
}

func TestPrometheusRecorder_Observe(t *testing.T) {
	r := NewPrometheusRecorder(MetricsConfig{Namespace: "test"})

	r.Observe(optimizer.Snapshot{
		Cache:      cache.Stats{Size: 12, Bytes: 4096, HitRate: 0.75, Evictions: 3},
		Memory:     memory.Stats{CurrentMB: 128, PeakMB: 256},
		Pool:       map[string]pool.ServiceStats{"db": {Idle: 2}},
		RateLimits: map[string]ratelimit.ServiceStats{"api": {ErrorRate: 0.2, MaxRate: 5}},
		Batches:    map[string]batch.Stats{"feed": {LastSize: 40, AvgDuration: 1500 * time.Millisecond}},
	})

	assert.Equal(t, 12.0, testutil.ToFloat64(r.cacheEntries))
	assert.Equal(t, 0.75, testutil.ToFloat64(r.cacheHitRate))
	assert.Equal(t, 128.0, testutil.ToFloat64(r.memoryUsage))
	assert.Equal(t, 256.0, testutil.ToFloat64(r.memoryPeak))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.poolIdle.WithLabelValues("db")))
	assert.Equal(t, 0.2, testutil.ToFloat64(r.errorRate.WithLabelValues("api")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.allowedRate.WithLabelValues("api")))
	assert.Equal(t, 40.0, testutil.ToFloat64(r.batchSize.WithLabelValues("feed")))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.batchDuration.WithLabelValues("feed")))
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	r := NewPrometheusRecorder(MetricsConfig{EnableGoMetrics: true})
	r.ConcurrencyWidth(4)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ingestkit_optimizer_concurrency_width 4")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPrometheusRecorder_WiredIntoService(t *testing.T) {
	r := NewPrometheusRecorder(MetricsConfig{})
	cfg := config.Default()
	cfg.RateLimit.BaseRate = 1000
	svc, err := optimizer.New(cfg, optimizer.WithRecorder(r))
	require.NoError(t, err)
	defer svc.Close()

	tasks := []optimizer.Task{
		func(ctx context.Context) (any, error) { return 1, nil },
		func(ctx context.Context) (any, error) { return nil, errors.New("bad gateway") },
	}
	svc.RunConcurrently(context.Background(), tasks, []string{"up", "up"})
	svc.Maintain()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("up", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("up", "TASK_FAILED")))
	assert.Positive(t, testutil.ToFloat64(r.memoryUsage))
	assert.InDelta(t, 0.1, testutil.ToFloat64(r.errorRate.WithLabelValues("up")), 0.011)
}

func TestHealthManager_Aggregation(t *testing.T) {
	tests := []struct {
		name   string
		checks []HealthCheck
		want   HealthStatus
		code   int
	}{
		{
			name:   "no checks",
			want:   HealthStatusHealthy,
			code:   http.StatusOK,
		},
		{
			name: "non-critical failure degrades",
			checks: []HealthCheck{
				PingHealthCheck("cache", false, func(context.Context) error { return errors.New("down") }),
				PingHealthCheck("db", true, func(context.Context) error { return nil }),
			},
			want: HealthStatusDegraded,
			code: http.StatusOK,
		},
		{
			name: "critical failure is unhealthy",
			checks: []HealthCheck{
				PingHealthCheck("db", true, func(context.Context) error { return errors.New("refused") }),
			},
			want: HealthStatusUnhealthy,
			code: http.StatusServiceUnavailable,
		},
		{
			name:   "missing check function is unknown",
			checks: []HealthCheck{{Name: "empty"}},
			want:   HealthStatusDegraded,
			code:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager("test")
			for _, c := range tt.checks {
				hm.RegisterCheck(c)
			}

			rec := httptest.NewRecorder()
			hm.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, rec.Code)

			var health SystemHealth
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
			assert.Equal(t, tt.want, health.Status)
			assert.Equal(t, "test", health.Version)
			assert.Len(t, health.Checks, len(tt.checks))
		})
	}
}

func TestHealthManager_PanickingCheck(t *testing.T) {
	hm := NewHealthManager("")
	hm.RegisterCheck(HealthCheck{
		Name:     "explodes",
		Critical: true,
		Check:    func(context.Context) HealthCheckResult { panic("nope") },
	})

	health := hm.Check(context.Background())
	require.Len(t, health.Checks, 1)
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
	assert.Equal(t, "explodes", health.Checks[0].Name)
	assert.True(t, strings.Contains(health.Checks[0].Error, "nope"))

	hm.RemoveCheck("explodes")
	assert.Equal(t, HealthStatusHealthy, hm.Check(context.Background()).Status)
}

func TestDomainHealthChecks(t *testing.T) {
	m := memory.New(config.MemoryConfig{ThresholdMB: 1 << 20})
	result := MemoryHealthCheck(m).Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, result.Status)
	assert.Contains(t, result.Metadata, "threshold_mb")

	m.SetThreshold(0.001)
	assert.Equal(t, HealthStatusDegraded, MemoryHealthCheck(m).Check(context.Background()).Status)

	l := ratelimit.New(config.RateLimitConfig{})
	check := RateLimitHealthCheck(l)
	l.RecordSuccess("ok")
	assert.Equal(t, HealthStatusHealthy, check.Check(context.Background()).Status)

	l.RecordError("flaky")
	l.RecordError("flaky")
	degraded := check.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, degraded.Status)
	assert.Equal(t, []string{"flaky"}, degraded.Metadata["damped"])

	assert.Equal(t, HealthStatusDegraded, GoroutineHealthCheck(0).Check(context.Background()).Status)
	assert.Equal(t, HealthStatusHealthy, GoroutineHealthCheck(1<<20).Check(context.Background()).Status)
}
