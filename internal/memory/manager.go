// internal/memory/manager.go

// Package memory samples process memory and CPU usage and reclaims memory
// when a threshold is crossed. It also keeps a side table of weak handles
// that are pruned once their targets are collected.
package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
	"weak"

	"github.com/prometheus/procfs"
	"golang.org/x/time/rate"

	"github.com/valpere/ingestkit/internal/config"
	"github.com/valpere/ingestkit/internal/utils"
)

const bytesPerMB = 1024 * 1024

// Handle identifies a tracked object.
type Handle uint64

// Stats is a snapshot of the manager's state.
type Stats struct {
	CurrentMB     float64   `json:"current_mb"`
	PeakMB        float64   `json:"peak_mb"`
	ThresholdMB   float64   `json:"threshold_mb"`
	Tracked       int       `json:"tracked"`
	FullCleanups  int64     `json:"full_cleanups"`
	LightCleanups int64     `json:"light_cleanups"`
	LastCleanup   time.Time `json:"last_cleanup"`
	Source        string    `json:"source"`
}

// CleanupFunc is called after every cleanup; full reports whether the
// threshold was exceeded.
type CleanupFunc func(full bool)

// Manager watches resident memory against a threshold.
type Manager struct {
	mu          sync.Mutex
	thresholdMB float64
	gcInterval  time.Duration

	currentMB   float64
	peakMB      float64
	source      string
	lastCleanup time.Time
	full        int64
	light       int64

	refs   map[Handle]func() bool
	nextID Handle
	hooks  []CleanupFunc

	cpuMu      sync.Mutex
	lastCPU    float64
	lastSample time.Time

	rss     func() (float64, error) // bytes
	cpuTime func() (float64, error) // seconds
	clock   func() time.Time
	logger  utils.Logger
	warn    *rate.Sometimes
}

// New creates a manager from cfg.
func New(cfg config.MemoryConfig) *Manager {
	if cfg.ThresholdMB <= 0 {
		cfg.ThresholdMB = 512
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = 5 * time.Minute
	}

	m := &Manager{
		thresholdMB: cfg.ThresholdMB,
		gcInterval:  cfg.GCInterval,
		refs:        make(map[Handle]func() bool),
		rss:         procRSS,
		cpuTime:     procCPUTime,
		clock:       time.Now,
		logger:      utils.GetLogger("memory"),
		warn:        &rate.Sometimes{Interval: time.Minute},
	}
	m.lastCleanup = m.clock()
	m.lastSample = m.lastCleanup
	if cpu, err := m.cpuTime(); err == nil {
		m.lastCPU = cpu
	}
	return m
}

func procRSS() (float64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	return float64(stat.ResidentMemory()), nil
}

func procCPUTime() (float64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, err
	}
	return stat.CPUTime(), nil
}

// CurrentUsageMB samples resident memory in megabytes and updates the peak.
// Where /proc is unavailable the Go runtime's view of memory obtained from
// the OS is used instead.
func (m *Manager) CurrentUsageMB() float64 {
	source := "procfs"
	bytes, err := m.rss()
	if err != nil || bytes <= 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		bytes = float64(ms.Sys)
		source = "runtime"
	}
	mb := bytes / bytesPerMB

	m.mu.Lock()
	m.currentMB = mb
	m.source = source
	if mb > m.peakMB {
		m.peakMB = mb
	}
	m.mu.Unlock()
	return mb
}

// CheckPressure reports whether usage is above the threshold. Above it a
// full cleanup runs immediately; below it a light cleanup runs once the GC
// interval has elapsed since the last cleanup.
func (m *Manager) CheckPressure() bool {
	usage := m.CurrentUsageMB()

	m.mu.Lock()
	threshold := m.thresholdMB
	due := m.clock().Sub(m.lastCleanup) >= m.gcInterval
	m.mu.Unlock()

	if usage > threshold {
		m.warn.Do(func() {
			m.logger.Warnf("memory usage %.1fMB above threshold %.1fMB, running full cleanup", usage, threshold)
		})
		m.cleanup(true)
		return true
	}
	if due {
		m.cleanup(false)
	}
	return false
}

func (m *Manager) cleanup(full bool) {
	pruned := m.prune()
	if full {
		debug.FreeOSMemory()
	} else {
		runtime.GC()
	}

	m.mu.Lock()
	m.lastCleanup = m.clock()
	if full {
		m.full++
	} else {
		m.light++
	}
	hooks := make([]CleanupFunc, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook(full)
	}
	m.logger.Debugf("cleanup done (full=%t, pruned=%d)", full, pruned)
}

// OnCleanup registers fn to run after every cleanup.
func (m *Manager) OnCleanup(fn CleanupFunc) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Track registers obj in m's side table without keeping it alive. The
// returned handle stays valid until obj is collected and a cleanup prunes
// it.
func Track[T any](m *Manager, obj *T) Handle {
	wp := weak.Make(obj)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.refs[id] = func() bool { return wp.Value() != nil }
	return id
}

// Alive reports whether the object behind h is still reachable.
func (m *Manager) Alive(h Handle) bool {
	m.mu.Lock()
	alive, ok := m.refs[h]
	m.mu.Unlock()
	return ok && alive()
}

// Untrack drops h from the side table.
func (m *Manager) Untrack(h Handle) {
	m.mu.Lock()
	delete(m.refs, h)
	m.mu.Unlock()
}

// TrackedCount returns the number of handles in the side table, dead or
// alive.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

// prune removes handles whose targets have been collected.
func (m *Manager) prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for h, alive := range m.refs {
		if !alive() {
			delete(m.refs, h)
			pruned++
		}
	}
	return pruned
}

// CPUPercent returns process CPU utilisation (0-100, all cores) since the
// previous call.
func (m *Manager) CPUPercent() float64 {
	cpu, err := m.cpuTime()
	if err != nil {
		return 0
	}
	now := m.clock()

	m.cpuMu.Lock()
	defer m.cpuMu.Unlock()

	wall := now.Sub(m.lastSample).Seconds()
	used := cpu - m.lastCPU
	m.lastCPU = cpu
	m.lastSample = now
	if wall <= 0 || used < 0 {
		return 0
	}

	pct := used / wall / float64(runtime.NumCPU()) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// SetThreshold changes the pressure threshold; non-positive values are
// ignored.
func (m *Manager) SetThreshold(mb float64) {
	if mb <= 0 {
		return
	}
	m.mu.Lock()
	m.thresholdMB = mb
	m.mu.Unlock()
}

// Stats returns the latest sample without taking a new one.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		CurrentMB:     m.currentMB,
		PeakMB:        m.peakMB,
		ThresholdMB:   m.thresholdMB,
		Tracked:       len(m.refs),
		FullCleanups:  m.full,
		LightCleanups: m.light,
		LastCleanup:   m.lastCleanup,
		Source:        m.source,
	}
}
