// internal/ratelimit/limiter.go

// Package ratelimit implements a per-service sliding-window rate limiter
// whose allowed rate reacts to error feedback.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

// Default configuration constants
const (
	DefaultBaseRate        = 10.0
	DefaultBurstMultiplier = 1.5
	DefaultWindow          = time.Second
)

// Adaptation behavior constants
const (
	ErrorIncrement     = 0.1  // added to the error rate on every failure
	SuccessDecrement   = 0.01 // removed from the error rate on every success
	HighErrorThreshold = 0.1  // above this the rate is damped
	LowErrorThreshold  = 0.01 // below this bursting is allowed
	DampingFactor      = 0.5
)

// ServiceStats describes one service's limiter state.
type ServiceStats struct {
	Requests    int64         `json:"requests"`
	InWindow    int           `json:"in_window"`
	ErrorRate   float64       `json:"error_rate"`
	MaxRate     float64       `json:"max_rate"`
	Delays      int64         `json:"delays"`
	TotalDelay  time.Duration `json:"total_delay"`
	LastRequest time.Time     `json:"last_request"`
}

type serviceWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	errorRate  float64
	requests   int64
	delays     int64
	totalDelay time.Duration
}

// AdaptiveRateLimiter tracks a trailing window of request timestamps per
// service and suspends callers once the window is full.
type AdaptiveRateLimiter struct {
	mu              sync.RWMutex
	baseRate        float64
	burstMultiplier float64
	window          time.Duration
	services        map[string]*serviceWindow

	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger utils.Logger
	warn   *rate.Sometimes
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *config.RateLimitConfig) {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = DefaultBaseRate
	}
	if cfg.BurstMultiplier < 1 {
		cfg.BurstMultiplier = DefaultBurstMultiplier
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
}

// New creates a limiter from cfg.
func New(cfg config.RateLimitConfig) *AdaptiveRateLimiter {
	applyDefaults(&cfg)
	return &AdaptiveRateLimiter{
		baseRate:        cfg.BaseRate,
		burstMultiplier: cfg.BurstMultiplier,
		window:          cfg.Window,
		services:        make(map[string]*serviceWindow),
		clock:           time.Now,
		sleep:           sleepContext,
		logger:          utils.GetLogger("ratelimit"),
		warn:            &rate.Sometimes{Interval: 10 * time.Second},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *AdaptiveRateLimiter) service(name string) *serviceWindow {
	l.mu.RLock()
	sw, ok := l.services[name]
	l.mu.RUnlock()
	if ok {
		return sw
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if sw, ok = l.services[name]; !ok {
		sw = &serviceWindow{}
		l.services[name] = sw
	}
	return sw
}

func (l *AdaptiveRateLimiter) params() (base, burst float64, window time.Duration) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.baseRate, l.burstMultiplier, l.window
}

// purge drops timestamps at or before now-window.
func (sw *serviceWindow) purge(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := sw.timestamps[:0]
	for _, ts := range sw.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	sw.timestamps = kept
}

func maxRate(errorRate, base, burst float64) float64 {
	switch {
	case errorRate > HighErrorThreshold:
		return base * DampingFactor
	case errorRate < LowErrorThreshold:
		return base * burst
	default:
		return base
	}
}

// Acquire admits one request for service. When the trailing window is
// already at the allowed rate the caller is suspended for window/maxRate.
// The request is recorded either way; an error is returned only when ctx
// ends during the wait.
func (l *AdaptiveRateLimiter) Acquire(ctx context.Context, service string) error {
	base, burst, window := l.params()
	sw := l.service(service)

	sw.mu.Lock()
	now := l.clock()
	sw.purge(now, window)

	current := float64(len(sw.timestamps)) / window.Seconds()
	allowed := maxRate(sw.errorRate, base, burst)

	var delay time.Duration
	if current >= allowed {
		delay = time.Duration(float64(window) / allowed)
		sw.delays++
		sw.totalDelay += delay
	}
	sw.timestamps = append(sw.timestamps, now.Add(delay))
	sw.requests++
	errorRate := sw.errorRate
	sw.mu.Unlock()

	if delay == 0 {
		return nil
	}

	l.warn.Do(func() {
		l.logger.WithFields(map[string]interface{}{
			"service":    service,
			"rate":       current,
			"max_rate":   allowed,
			"error_rate": errorRate,
		}).Warnf("service over its rate, delaying for %s", delay)
	})

	if err := l.sleep(ctx, delay); err != nil {
		return utils.NewError(utils.ErrCodeContextCanceled, "rate limit wait interrupted").
			WithCause(err).
			WithContext("service", service).
			Build()
	}
	return nil
}

// RecordSuccess decays the service's error rate.
func (l *AdaptiveRateLimiter) RecordSuccess(service string) {
	sw := l.service(service)
	sw.mu.Lock()
	sw.errorRate = clamp(sw.errorRate - SuccessDecrement)
	sw.mu.Unlock()
}

// RecordError raises the service's error rate.
func (l *AdaptiveRateLimiter) RecordError(service string) {
	sw := l.service(service)
	sw.mu.Lock()
	sw.errorRate = clamp(sw.errorRate + ErrorIncrement)
	sw.mu.Unlock()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ErrorRate returns the smoothed error rate of service.
func (l *AdaptiveRateLimiter) ErrorRate(service string) float64 {
	sw := l.service(service)
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.errorRate
}

// EffectiveRate returns the rate (requests per second) service is currently
// allowed before callers are suspended.
func (l *AdaptiveRateLimiter) EffectiveRate(service string) float64 {
	base, burst, _ := l.params()
	return maxRate(l.ErrorRate(service), base, burst)
}

// SetRates changes the base rate and burst multiplier for all services.
// Non-positive base rates and multipliers below one are ignored.
func (l *AdaptiveRateLimiter) SetRates(baseRate, burstMultiplier float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if baseRate > 0 {
		l.baseRate = baseRate
	}
	if burstMultiplier >= 1 {
		l.burstMultiplier = burstMultiplier
	}
}

// Stats returns the state of every service seen so far.
func (l *AdaptiveRateLimiter) Stats() map[string]ServiceStats {
	base, burst, window := l.params()
	now := l.clock()

	l.mu.RLock()
	names := make([]string, 0, len(l.services))
	windows := make([]*serviceWindow, 0, len(l.services))
	for name, sw := range l.services {
		names = append(names, name)
		windows = append(windows, sw)
	}
	l.mu.RUnlock()

	out := make(map[string]ServiceStats, len(names))
	for i, sw := range windows {
		sw.mu.Lock()
		sw.purge(now, window)
		st := ServiceStats{
			Requests:   sw.requests,
			InWindow:   len(sw.timestamps),
			ErrorRate:  sw.errorRate,
			MaxRate:    maxRate(sw.errorRate, base, burst),
			Delays:     sw.delays,
			TotalDelay: sw.totalDelay,
		}
		if n := len(sw.timestamps); n > 0 {
			st.LastRequest = sw.timestamps[n-1]
		}
		sw.mu.Unlock()
		out[names[i]] = st
	}
	return out
}
