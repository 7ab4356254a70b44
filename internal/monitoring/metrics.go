// internal/monitoring/metrics.go

// Package monitoring exports optimizer metrics to Prometheus and serves
// health checks over HTTP.
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valpere/ingestkit/internal/optimizer"
	"github.com/valpere/ingestkit/internal/utils"
)

// MetricsConfig configures the Prometheus recorder.
type MetricsConfig struct {
	Namespace            string `json:"namespace"`
	Subsystem            string `json:"subsystem"`
	EnableGoMetrics      bool   `json:"enable_go_metrics"`
	EnableProcessMetrics bool   `json:"enable_process_metrics"`
}

// PrometheusRecorder implements optimizer.Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Task metrics
	tasksTotal    *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	tasksInFlight *prometheus.GaugeVec
	rateLimitWait *prometheus.HistogramVec
	gateWidth     prometheus.Gauge

	// Cache metrics
	cacheLookups   *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	cacheBytes     prometheus.Gauge
	cacheHitRate   prometheus.Gauge
	cacheEvictions prometheus.Gauge

	// Component gauges refreshed by Observe
	memoryUsage   prometheus.Gauge
	memoryPeak    prometheus.Gauge
	poolIdle      *prometheus.GaugeVec
	errorRate     *prometheus.GaugeVec
	allowedRate   *prometheus.GaugeVec
	batchSize     *prometheus.GaugeVec
	batchDuration *prometheus.GaugeVec
	throughput    prometheus.Gauge
}

var _ optimizer.Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the optimizer metrics on a fresh registry.
func NewPrometheusRecorder(cfg MetricsConfig) *PrometheusRecorder {
	if cfg.Namespace == "" {
		cfg.Namespace = "ingestkit"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "optimizer"
	}

	reg := prometheus.NewRegistry()
	if cfg.EnableGoMetrics {
		reg.MustRegister(collectors.NewGoCollector())
	}
	if cfg.EnableProcessMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	f := promauto.With(reg)
	ns, sub := cfg.Namespace, cfg.Subsystem

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	}
	gaugeVec := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return f.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help}, labels)
	}

	return &PrometheusRecorder{
		registry: reg,

		tasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "tasks_total",
			Help:      "Tasks executed through the concurrency gate",
		}, []string{"service", "outcome"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "task_duration_seconds",
			Help:      "Task execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		tasksInFlight: gaugeVec("tasks_in_flight", "Tasks currently executing", "service"),
		rateLimitWait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the rate limiter",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"service"}),
		gateWidth: gauge("concurrency_width", "Width of the most recent concurrency gate"),

		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "cache_lookups_total",
			Help:      "Cached call lookups by result",
		}, []string{"namespace", "result"}),
		cacheEntries:   gauge("cache_entries", "Entries currently cached"),
		cacheBytes:     gauge("cache_bytes", "Estimated size of cached values"),
		cacheHitRate:   gauge("cache_hit_ratio", "Cache hits over lookups since start"),
		cacheEvictions: gauge("cache_evictions", "LRU evictions since start"),

		memoryUsage:   gauge("memory_usage_megabytes", "Resident memory at the last sample"),
		memoryPeak:    gauge("memory_peak_megabytes", "Highest resident memory sampled"),
		poolIdle:      gaugeVec("pool_idle_resources", "Idle pooled resources", "service"),
		errorRate:     gaugeVec("rate_limit_error_ratio", "Smoothed error rate per service", "service"),
		allowedRate:   gaugeVec("rate_limit_allowed_rate", "Requests per window currently allowed", "service"),
		batchSize:     gaugeVec("batch_size", "Size of the most recent batch", "key"),
		batchDuration: gaugeVec("batch_avg_duration_seconds", "Running average batch duration", "key"),
		throughput:    gauge("operations_per_second", "Task throughput since start"),
	}
}

func (r *PrometheusRecorder) TaskStarted(service string) {
	r.tasksInFlight.WithLabelValues(service).Inc()
}

func (r *PrometheusRecorder) TaskFinished(service string, d time.Duration, err error) {
	r.tasksInFlight.WithLabelValues(service).Dec()
	r.taskDuration.WithLabelValues(service).Observe(d.Seconds())
	outcome := "success"
	if err != nil {
		outcome = string(utils.CodeOf(err))
	}
	r.tasksTotal.WithLabelValues(service, outcome).Inc()
}

func (r *PrometheusRecorder) RateLimitWait(service string, d time.Duration) {
	r.rateLimitWait.WithLabelValues(service).Observe(d.Seconds())
}

func (r *PrometheusRecorder) ConcurrencyWidth(width int) {
	r.gateWidth.Set(float64(width))
}

func (r *PrometheusRecorder) CacheLookup(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(namespace, result).Inc()
}

// Observe refreshes the component gauges from snap.
func (r *PrometheusRecorder) Observe(snap optimizer.Snapshot) {
	r.cacheEntries.Set(float64(snap.Cache.Size))
	r.cacheBytes.Set(float64(snap.Cache.Bytes))
	r.cacheHitRate.Set(snap.Cache.HitRate)
	r.cacheEvictions.Set(float64(snap.Cache.Evictions))

	r.memoryUsage.Set(snap.Memory.CurrentMB)
	r.memoryPeak.Set(snap.Memory.PeakMB)

	for service, st := range snap.Pool {
		r.poolIdle.WithLabelValues(service).Set(float64(st.Idle))
	}
	for service, st := range snap.RateLimits {
		r.errorRate.WithLabelValues(service).Set(st.ErrorRate)
		r.allowedRate.WithLabelValues(service).Set(st.MaxRate)
	}
	for key, st := range snap.Batches {
		r.batchSize.WithLabelValues(key).Set(float64(st.LastSize))
		r.batchDuration.WithLabelValues(key).Set(st.AvgDuration.Seconds())
	}
	r.throughput.Set(snap.Throughput.OperationsPerSec)
}

// Registry returns the registry the metrics live on.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// StartMetricsServer serves Handler on address at path until ctx ends.
func (r *PrometheusRecorder) StartMetricsServer(ctx context.Context, address, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, r.Handler())

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
