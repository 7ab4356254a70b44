// internal/batch/processor.go

// Package batch drives work items through a caller-supplied function in
// adaptively sized batches. A batch that times out or fails is retried one
// item at a time so a single bad item cannot sink the rest.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

const (
	// DefaultKey is used when Process is called with an empty key.
	DefaultKey = "default"
	// MinAdaptiveSize is the floor when a slow key's batch size is halved.
	MinAdaptiveSize = 10
	// warmupBatches must complete before the size adapts.
	warmupBatches = 5
)

// Func processes one batch and returns one result per item, in order.
type Func[T, R any] func(ctx context.Context, batch []T) ([]R, error)

// Stats are the cumulative counters of one batch key.
type Stats struct {
	Batches     int64         `json:"batches"`
	Items       int64         `json:"items"`
	AvgDuration time.Duration `json:"avg_duration"`
	Timeouts    int64         `json:"timeouts"`
	Fallbacks   int64         `json:"fallbacks"`
	Dropped     int64         `json:"dropped"`
	LastSize    int           `json:"last_size"`
}

// Processor splits work into batches. It is safe for concurrent use; stats
// are shared by all callers using the same key.
type Processor[T, R any] struct {
	mu            sync.RWMutex
	baseSize      int
	maxSize       int
	timeout       time.Duration
	slowThreshold time.Duration
	fastThreshold time.Duration
	stats         map[string]*Stats

	logger utils.Logger
	warn   *rate.Sometimes
}

// New creates a processor from cfg, filling unset values with the balanced
// defaults.
func New[T, R any](cfg config.BatchConfig) *Processor[T, R] {
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 50
	}
	if cfg.MaxSize < cfg.BaseSize {
		cfg.MaxSize = cfg.BaseSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}
	if cfg.FastThreshold <= 0 {
		cfg.FastThreshold = time.Second
	}

	return &Processor[T, R]{
		baseSize:      cfg.BaseSize,
		maxSize:       cfg.MaxSize,
		timeout:       cfg.Timeout,
		slowThreshold: cfg.SlowThreshold,
		fastThreshold: cfg.FastThreshold,
		stats:         make(map[string]*Stats),
		logger:        utils.GetLogger("batch"),
		warn:          &rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// OptimalBatchSize returns the size of the next batch for key when total
// items remain.
func (p *Processor[T, R]) OptimalBatchSize(total int, key string) int {
	if key == "" {
		key = DefaultKey
	}

	p.mu.RLock()
	size := p.baseSize
	if st, ok := p.stats[key]; ok && st.Batches >= warmupBatches {
		switch {
		case st.AvgDuration > p.slowThreshold:
			size = max(p.baseSize/2, MinAdaptiveSize)
		case st.AvgDuration < p.fastThreshold:
			size = min(p.baseSize*2, p.maxSize)
		}
	}
	p.mu.RUnlock()

	if size > total {
		size = total
	}
	return max(size, 1)
}

// Process runs fn over items and returns the results of every item that
// succeeded, in submission order. Failed items are logged and dropped. Each
// batch gets its own deadline; when it passes or the batch fails, the items
// are retried individually. Cancelling ctx stops further work.
func (p *Processor[T, R]) Process(ctx context.Context, items []T, fn Func[T, R], key string) []R {
	if key == "" {
		key = DefaultKey
	}
	logger := p.logger.WithField("batch_key", key)
	results := make([]R, 0, len(items))

	for start := 0; start < len(items); {
		if ctx.Err() != nil {
			logger.Warnf("stopping with %d items unprocessed: %v", len(items)-start, ctx.Err())
			break
		}

		size := p.OptimalBatchSize(len(items)-start, key)
		batch := items[start : start+size]
		start += size

		began := time.Now()
		out, err := p.run(ctx, batch, fn)
		elapsed := time.Since(began)

		if err == nil && len(out) != len(batch) {
			err = fmt.Errorf("batch returned %d results for %d items", len(out), len(batch))
		}
		if err == nil {
			results = append(results, out...)
			p.record(key, attempt{items: len(batch), elapsed: elapsed})
			continue
		}

		timedOut := utils.CodeOf(err) == utils.ErrCodeBatchTimeout
		p.warn.Do(func() {
			logger.Warnf("batch of %d failed, retrying items individually: %v", len(batch), err)
		})

		dropped := 0
		for _, item := range batch {
			if ctx.Err() != nil {
				dropped++
				continue
			}
			single, err := p.run(ctx, []T{item}, fn)
			if err != nil || len(single) != 1 {
				logger.Debugf("dropping item after individual retry: %v", err)
				dropped++
				continue
			}
			results = append(results, single[0])
		}
		p.record(key, attempt{items: len(batch), elapsed: elapsed, fallback: true, timedOut: timedOut, dropped: dropped})
	}
	return results
}

type outcome[R any] struct {
	results []R
	err     error
}

// run calls fn under the batch timeout. A timed-out call is abandoned; its
// context is cancelled so well-behaved functions stop early.
func (p *Processor[T, R]) run(ctx context.Context, batch []T, fn Func[T, R]) ([]R, error) {
	p.mu.RLock()
	timeout := p.timeout
	p.mu.RUnlock()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[R]{err: utils.NewError(utils.ErrCodeTaskPanic, fmt.Sprintf("batch function panicked: %v", r)).Build()}
			}
		}()
		out, err := fn(runCtx, batch)
		done <- outcome[R]{results: out, err: err}
	}()

	var o outcome[R]
	select {
	case o = <-done:
	case <-runCtx.Done():
		select {
		case o = <-done:
		default:
			o.err = runCtx.Err()
		}
	}

	if o.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, utils.NewError(utils.ErrCodeBatchTimeout, "batch exceeded its deadline").
			WithCause(o.err).
			WithContext("items", len(batch)).
			WithSeverity(utils.SeverityWarning).
			WithRetryable(true).
			Build()
	}
	return o.results, o.err
}

// attempt describes one finished batch.
type attempt struct {
	items    int
	elapsed  time.Duration
	fallback bool
	timedOut bool
	dropped  int
}

func (p *Processor[T, R]) record(key string, a attempt) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.stats[key]
	if !ok {
		st = &Stats{}
		p.stats[key] = st
	}
	st.Batches++
	st.Items += int64(a.items)
	st.AvgDuration += (a.elapsed - st.AvgDuration) / time.Duration(st.Batches)
	st.LastSize = a.items
	if a.timedOut {
		st.Timeouts++
	}
	if a.fallback {
		st.Fallbacks++
	}
	st.Dropped += int64(a.dropped)
}

// Stats returns the counters of key.
func (p *Processor[T, R]) Stats(key string) (Stats, bool) {
	if key == "" {
		key = DefaultKey
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.stats[key]
	if !ok {
		return Stats{}, false
	}
	return *st, true
}

// AllStats returns a copy of every key's counters.
func (p *Processor[T, R]) AllStats() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Stats, len(p.stats))
	for k, st := range p.stats {
		out[k] = *st
	}
	return out
}

// Reconfigure updates sizing; non-positive values keep the current setting.
func (p *Processor[T, R]) Reconfigure(cfg config.BatchConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.BaseSize > 0 {
		p.baseSize = cfg.BaseSize
	}
	if cfg.MaxSize > 0 {
		p.maxSize = cfg.MaxSize
	}
	if p.maxSize < p.baseSize {
		p.maxSize = p.baseSize
	}
	if cfg.Timeout > 0 {
		p.timeout = cfg.Timeout
	}
	if cfg.SlowThreshold > 0 {
		p.slowThreshold = cfg.SlowThreshold
	}
	if cfg.FastThreshold > 0 {
		p.fastThreshold = cfg.FastThreshold
	}
}
