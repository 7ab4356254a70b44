// internal/optimizer/concurrent.go
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/valpere/ingestkit/internal/utils"
)

// DefaultService names tasks submitted without a service name.
const DefaultService = "default"

// Task is one independent unit of work. It should honour ctx.
type Task func(ctx context.Context) (any, error)

// TaskResult is the outcome of one task. Exactly one is returned per
// submitted task, at the task's index.
type TaskResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	RunID    string        `json:"run_id"`
	Value    any           `json:"value,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the task succeeded.
func (r TaskResult) OK() bool { return r.Err == nil }

// RunConcurrently executes tasks behind a concurrency gate whose width comes
// from CalculateOptimalConcurrency. names[i] is the service of tasks[i] and
// selects its rate limit; missing names use DefaultService. A failing or
// panicking task never affects the others.
func (s *Service) RunConcurrently(ctx context.Context, tasks []Task, names []string) []TaskResult {
	results := make([]TaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	runID := uuid.NewString()
	width := s.CalculateOptimalConcurrency(len(tasks))
	s.lastWidth.Store(int64(width))
	s.runs.Add(1)
	s.recorder.ConcurrencyWidth(width)

	logger := s.logger.WithFields(map[string]interface{}{"run_id": runID, "tasks": len(tasks), "width": width})
	logger.Debug("starting concurrent run")

	gate := semaphore.NewWeighted(int64(width))
	var wg sync.WaitGroup

	for i, task := range tasks {
		name := DefaultService
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		results[i] = TaskResult{Index: i, Name: name, RunID: runID}

		if err := gate.Acquire(ctx, 1); err != nil {
			results[i].Err = utils.WrapError(err, utils.ErrCodeContextCanceled, "run cancelled before task started")
			continue
		}

		wg.Add(1)
		go func(task Task, res *TaskResult) {
			defer wg.Done()
			defer gate.Release(1)
			s.runOne(ctx, task, res)
		}(task, &results[i])
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Infof("run finished: %d succeeded, %d failed", len(tasks)-failed, failed)
	return results
}

func (s *Service) runOne(ctx context.Context, task Task, res *TaskResult) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		res.Err = utils.WrapError(err, utils.ErrCodeContextCanceled, "run cancelled before task started")
		return
	}

	waitStart := time.Now()
	if err := s.limiter.Acquire(ctx, res.Name); err != nil {
		res.Err = err
		return
	}
	s.recorder.RateLimitWait(res.Name, time.Since(waitStart))

	s.recorder.TaskStarted(res.Name)
	timer := utils.NewTimer()
	value, err := s.execute(ctx, res.Name, task)
	res.Duration = timer.Stop()
	res.Value = value

	if err != nil {
		s.limiter.RecordError(res.Name)
		if utils.CodeOf(err) == utils.ErrCodeInternal {
			err = utils.NewError(utils.ErrCodeTaskFailed, "task failed").
				WithCause(err).
				WithContext("service", res.Name).
				WithContext("index", res.Index).
				WithRetryable(utils.IsRetryableError(err)).
				Build()
		}
		res.Err = err
	} else {
		s.limiter.RecordSuccess(res.Name)
	}

	s.throughput.RecordOperation(res.Duration, err == nil)
	s.recorder.TaskFinished(res.Name, res.Duration, err)
}

// execute runs task, converting panics into errors and routing through the
// service's circuit breaker when breakers are enabled.
func (s *Service) execute(ctx context.Context, service string, task Task) (any, error) {
	call := func() (any, error) { return safeCall(ctx, task) }

	cb := s.breaker(service)
	if cb == nil {
		return call()
	}

	value, err := cb.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, utils.NewError(utils.ErrCodeCircuitOpen, fmt.Sprintf("circuit open for %s", service)).
			WithCause(err).
			WithRetryable(true).
			Build()
	}
	return value, err
}

func safeCall(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = utils.NewError(utils.ErrCodeTaskPanic, fmt.Sprintf("task panicked: %v", r)).
				WithSeverity(utils.SeverityCritical).
				Build()
		}
	}()
	return task(ctx)
}

func (s *Service) breaker(service string) *gobreaker.CircuitBreaker {
	s.mu.RLock()
	cfg := s.cfg.CircuitBreaker
	s.mu.RUnlock()
	if !cfg.Enabled {
		return nil
	}

	s.breakerMu.Lock()
	defer s.breakerMu.Unlock()
	if cb, ok := s.breakers[service]; ok {
		return cb
	}

	logger := s.logger.WithField("service", service)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    service,
		Timeout: cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("circuit breaker %s changed from %s to %s", name, from, to)
		},
	})
	s.breakers[service] = cb
	return cb
}

// CalculateOptimalConcurrency returns the gate width for totalTasks tasks:
// min(max, totalTasks), then, in adaptive mode, halved (not below min) under
// memory pressure or high CPU, or doubled (not above the hard limit) under
// low CPU. Readings are point-in-time with no smoothing, so the width can
// swing between calls when load sits near a threshold.
func (s *Service) CalculateOptimalConcurrency(totalTasks int) int {
	s.mu.RLock()
	cc := s.cfg.Concurrency
	s.mu.RUnlock()

	width := min(cc.Max, totalTasks)
	if width < 1 {
		width = 1
	}
	if !cc.AdaptiveEnabled() {
		return width
	}

	pressure := s.monitor.CheckPressure()
	cpu := s.monitor.CPUPercent()

	switch {
	case pressure || cpu > cc.CPUHigh:
		width = max(width/2, cc.Min)
	case cpu < cc.CPULow:
		width = min(width*2, cc.HardLimit)
	}
	return max(width, 1)
}
