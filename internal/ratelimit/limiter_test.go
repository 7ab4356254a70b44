package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

// recordingSleeper replaces real sleeping and remembers requested delays.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func (r *recordingSleeper) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}
	return sum
}

func newTestLimiter(cfg config.RateLimitConfig) (*AdaptiveRateLimiter, *recordingSleeper, *time.Time) {
	l := New(cfg)
	s := &recordingSleeper{}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.sleep = s.sleep
	l.clock = func() time.Time { return now }
	return l, s, &now
}

func burst(t *testing.T, l *AdaptiveRateLimiter, service string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, l.Acquire(context.Background(), service))
	}
}

func TestLimiter_AdmitsUpToBurstWithoutDelay(t *testing.T) {
	l, s, _ := newTestLimiter(config.RateLimitConfig{BaseRate: 10, BurstMultiplier: 1.5, Window: time.Second})

	burst(t, l, "api", 15)
	assert.Empty(t, s.delays, "no errors: base*burst requests fit in the window")

	burst(t, l, "api", 1)
	require.Len(t, s.delays, 1)
	assert.Equal(t, time.Second/15, s.delays[0])
}

func TestLimiter_ErrorsDampTheRate(t *testing.T) {
	cfg := config.RateLimitConfig{BaseRate: 10, BurstMultiplier: 1.5, Window: time.Second}

	baseline, baseSleep, _ := newTestLimiter(cfg)
	burst(t, baseline, "api", 30)

	damped, dampedSleep, _ := newTestLimiter(cfg)
	for i := 0; i < 10; i++ {
		damped.RecordError("api")
	}
	burst(t, damped, "api", 30)

	assert.Greater(t, dampedSleep.total(), baseSleep.total())
	assert.Greater(t, len(dampedSleep.delays), len(baseSleep.delays))
	assert.Equal(t, 5.0, damped.EffectiveRate("api"))
	assert.Equal(t, 15.0, baseline.EffectiveRate("api"))
}

func TestLimiter_ErrorRateSteps(t *testing.T) {
	l, _, _ := newTestLimiter(config.RateLimitConfig{BaseRate: 10, BurstMultiplier: 2, Window: time.Second})

	l.RecordSuccess("svc")
	assert.Zero(t, l.ErrorRate("svc"), "clamped at zero")

	l.RecordError("svc")
	assert.InDelta(t, 0.1, l.ErrorRate("svc"), 1e-9)
	assert.Equal(t, 10.0, l.EffectiveRate("svc"), "0.1 is not above the damping threshold")

	l.RecordError("svc")
	assert.Equal(t, 5.0, l.EffectiveRate("svc"))

	for i := 0; i < 20; i++ {
		l.RecordError("svc")
	}
	assert.Equal(t, 1.0, l.ErrorRate("svc"), "clamped at one")

	for i := 0; i < 10; i++ {
		l.RecordSuccess("svc")
	}
	assert.InDelta(t, 0.9, l.ErrorRate("svc"), 1e-9, "successes decay slower than errors grow")
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, s, now := newTestLimiter(config.RateLimitConfig{BaseRate: 2, BurstMultiplier: 1, Window: time.Second})

	burst(t, l, "api", 2)
	*now = now.Add(1500 * time.Millisecond)
	burst(t, l, "api", 2)

	assert.Empty(t, s.delays, "old timestamps are purged before the rate is computed")
	assert.Equal(t, 2, l.Stats()["api"].InWindow)
	assert.Equal(t, int64(4), l.Stats()["api"].Requests)
}

func TestLimiter_ServicesAreIndependent(t *testing.T) {
	l, s, _ := newTestLimiter(config.RateLimitConfig{BaseRate: 1, BurstMultiplier: 1, Window: time.Second})

	burst(t, l, "a", 1)
	burst(t, l, "b", 1)
	assert.Empty(t, s.delays)

	l.RecordError("a")
	assert.Zero(t, l.ErrorRate("b"))
}

func TestLimiter_ContextCancelledDuringWait(t *testing.T) {
	l := New(config.RateLimitConfig{BaseRate: 1, BurstMultiplier: 1, Window: time.Second})

	require.NoError(t, l.Acquire(context.Background(), "slow"))
	// the window now holds one request, so the next waits a full second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Acquire(ctx, "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, utils.ErrCodeContextCanceled, utils.CodeOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(2), l.Stats()["slow"].Requests, "request is recorded regardless")
}

func TestLimiter_RealDelay(t *testing.T) {
	l := New(config.RateLimitConfig{BaseRate: 20, BurstMultiplier: 1, Window: 100 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), "api"))
	}
	// 2 fit in the window (20/s * 0.1s); the third waits window/maxRate = 5ms
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, int64(1), l.Stats()["api"].Delays)
}

func TestLimiter_SetRates(t *testing.T) {
	l, _, _ := newTestLimiter(config.RateLimitConfig{BaseRate: 10, BurstMultiplier: 1.5, Window: time.Second})

	l.SetRates(40, 1)
	assert.Equal(t, 40.0, l.EffectiveRate("x"))

	l.SetRates(-1, 0.5)
	assert.Equal(t, 40.0, l.EffectiveRate("x"), "invalid values are ignored")
}

func TestLimiter_ConcurrentAcquire(t *testing.T) {
	l, _, _ := newTestLimiter(config.RateLimitConfig{BaseRate: 100, BurstMultiplier: 1, Window: time.Second})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = l.Acquire(context.Background(), "shared")
				if i%5 == 0 {
					l.RecordError("shared")
				} else {
					l.RecordSuccess("shared")
				}
			}
		}()
	}
	wg.Wait()

	st := l.Stats()["shared"]
	assert.Equal(t, int64(500), st.Requests)
	assert.GreaterOrEqual(t, st.ErrorRate, 0.0)
	assert.LessOrEqual(t, st.ErrorRate, 1.0)
}
