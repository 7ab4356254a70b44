package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerformanceMetrics_RecordOperation(t *testing.T) {
	pm := NewPerformanceMetrics()

	pm.RecordOperation(10*time.Millisecond, true)
	pm.RecordOperation(30*time.Millisecond, false)
	pm.RecordOperation(20*time.Millisecond, true)

	snap := pm.GetSnapshot()
	assert.Equal(t, int64(3), snap.TotalOperations)
	assert.Equal(t, int64(2), snap.SuccessfulOps)
	assert.Equal(t, int64(1), snap.FailedOps)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.Equal(t, 10*time.Millisecond, snap.MinLatency)
	assert.Equal(t, 30*time.Millisecond, snap.MaxLatency)
	assert.Equal(t, 20*time.Millisecond, snap.AverageLatency)
}

func TestPerformanceMetrics_Concurrent(t *testing.T) {
	pm := NewPerformanceMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				pm.RecordOperation(time.Millisecond, j%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	snap := pm.GetSnapshot()
	assert.Equal(t, int64(800), snap.TotalOperations)
	assert.Equal(t, int64(400), snap.SuccessfulOps)
}

func TestPerformanceMetrics_Reset(t *testing.T) {
	pm := NewPerformanceMetrics()
	pm.RecordOperation(time.Second, true)
	pm.Reset()

	snap := pm.GetSnapshot()
	assert.Zero(t, snap.TotalOperations)
	assert.Zero(t, snap.SuccessRate)
	assert.Zero(t, snap.MaxLatency)
}

func TestTimer_Stop(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 5*time.Millisecond)
}

func BenchmarkPerformanceMetrics_RecordOperation(b *testing.B) {
	pm := NewPerformanceMetrics()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			pm.RecordOperation(time.Millisecond*50, true)
		}
	})
}

func BenchmarkPerformanceMetrics_GetSnapshot(b *testing.B) {
	pm := NewPerformanceMetrics()
	for i := 0; i < 1000; i++ {
		pm.RecordOperation(time.Millisecond*time.Duration(i%100), i%2 == 0)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pm.GetSnapshot()
	}
}
