package memory

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	gopsproc "github.com/shirou/gopsutil/v3/process"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
)

// Event topics emitted by the monitor.
const (
	TopicWarning     = "memory.warning"
	TopicAlert       = "memory.alert"
	TopicError       = "memory.error"
	TopicGCTriggered = "gc.triggered"
)

// Defaults for Config.
const (
	DefaultMaxHeapUsed        = 512 << 20 // 512 MiB
	DefaultMaxRSS             = 1 << 30   // 1 GiB
	DefaultGCThresholdPercent = 80
	DefaultCheckInterval      = 30 * time.Second
)

// Config sets the monitor's limits and cadence.
type Config struct {
	// MaxHeapUsed is the hard heap limit in bytes.
	MaxHeapUsed uint64

	// MaxRSS is the hard resident-set limit in bytes.
	MaxRSS uint64

	// GCThresholdPercent is the soft threshold as a percentage of
	// MaxHeapUsed; crossing it emits a warning and attempts a GC.
	GCThresholdPercent int

	// CheckInterval is the sampling period.
	CheckInterval time.Duration

	// EnableGC allows the monitor to call runtime.GC on soft-threshold
	// breaches. When false the GC attempt is a counted no-op.
	EnableGC bool
}

func (c Config) withDefaults() Config {
	if c.MaxHeapUsed == 0 {
		c.MaxHeapUsed = DefaultMaxHeapUsed
	}
	if c.MaxRSS == 0 {
		c.MaxRSS = DefaultMaxRSS
	}
	if c.GCThresholdPercent <= 0 || c.GCThresholdPercent > 100 {
		c.GCThresholdPercent = DefaultGCThresholdPercent
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	return c
}

// Callback receives the measured value and the limit that was exceeded.
type Callback func(used, limit uint64)

// Stats is a snapshot of the monitor's last sample and counters.
type Stats struct {
	HeapUsed    uint64
	RSS         uint64
	Samples     uint64
	GCCount     uint64
	LastGCTime  time.Time
	Warnings    uint64
	Alerts      uint64
	MaxHeapUsed uint64
	MaxRSS      uint64
}

// Monitor samples memory on a timer. Safe for concurrent use; Start and
// Stop are idempotent.
type Monitor struct {
	emitter *event.Emitter
	proc    *gopsproc.Process

	mu           sync.Mutex
	cfg          Config
	heapExceeded Callback
	rssExceeded  Callback
	lastHeap     uint64
	lastRSS      uint64
	lastGC       time.Time
	stop         chan struct{}
	done         chan struct{}

	running  atomic.Bool
	samples  atomic.Uint64
	gcCount  atomic.Uint64
	warnings atomic.Uint64
	alerts   atomic.Uint64
}

// NewMonitor creates a stopped monitor. The emitter must not be nil.
func NewMonitor(cfg Config, emitter *event.Emitter) *Monitor {
	// Process lookup for our own pid cannot reasonably fail; a nil proc
	// degrades RSS sampling into memory.error events.
	proc, _ := gopsproc.NewProcess(int32(os.Getpid()))
	return &Monitor{
		emitter: emitter,
		proc:    proc,
		cfg:     cfg.withDefaults(),
	}
}

// SetHeapExceededCallback registers the hard heap limit callback.
func (m *Monitor) SetHeapExceededCallback(cb Callback) {
	m.mu.Lock()
	m.heapExceeded = cb
	m.mu.Unlock()
}

// SetRSSExceededCallback registers the hard RSS limit callback.
func (m *Monitor) SetRSSExceededCallback(cb Callback) {
	m.mu.Lock()
	m.rssExceeded = cb
	m.mu.Unlock()
}

// UpdateLimits swaps the monitor's configuration, taking effect on the next
// tick. The sampling interval of a running monitor is not changed.
func (m *Monitor) UpdateLimits(cfg Config) {
	m.mu.Lock()
	interval := m.cfg.CheckInterval
	m.cfg = cfg.withDefaults()
	m.cfg.CheckInterval = interval
	m.mu.Unlock()
}

// Start begins sampling. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	interval := m.cfg.CheckInterval
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit. Idempotent.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.mu.Unlock()
	close(stop)
	<-done
}

// IsRunning reports whether the sampling loop is active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// Sample takes one measurement immediately, outside the timer. Exposed so
// hosts and tests can force a check without waiting a full interval.
func (m *Monitor) Sample() {
	m.sample()
}

func (m *Monitor) sample() {
	m.samples.Add(1)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heap := ms.HeapAlloc

	var rss uint64
	if m.proc != nil {
		info, err := m.proc.MemoryInfo()
		if err != nil {
			m.emitter.Emit(TopicError, event.Payload{
				"error": fmt.Sprintf("rss sample: %v", err),
			})
		} else {
			rss = info.RSS
		}
	}

	m.mu.Lock()
	cfg := m.cfg
	heapCB := m.heapExceeded
	rssCB := m.rssExceeded
	m.lastHeap = heap
	m.lastRSS = rss
	m.mu.Unlock()

	softLimit := cfg.MaxHeapUsed / 100 * uint64(cfg.GCThresholdPercent)

	switch {
	case heap > cfg.MaxHeapUsed:
		m.alerts.Add(1)
		m.emitter.Emit(TopicAlert, event.Payload{
			"type":  "heap",
			"used":  heap,
			"limit": cfg.MaxHeapUsed,
		})
		m.invoke("heap exceeded", heapCB, heap, cfg.MaxHeapUsed)
	case heap > softLimit:
		m.warnings.Add(1)
		m.emitter.Emit(TopicWarning, event.Payload{
			"type":      "heap",
			"used":      heap,
			"threshold": softLimit,
		})
		m.triggerGC(cfg)
	}

	if rss > cfg.MaxRSS {
		m.alerts.Add(1)
		m.emitter.Emit(TopicAlert, event.Payload{
			"type":  "rss",
			"used":  rss,
			"limit": cfg.MaxRSS,
		})
		m.invoke("rss exceeded", rssCB, rss, cfg.MaxRSS)
	}
}

// triggerGC attempts a collection. Disabled GC still counts the attempt so
// pressure remains observable.
func (m *Monitor) triggerGC(cfg Config) {
	if cfg.EnableGC {
		runtime.GC()
	}
	m.gcCount.Add(1)
	now := time.Now()
	m.mu.Lock()
	m.lastGC = now
	m.mu.Unlock()
	m.emitter.Emit(TopicGCTriggered, event.Payload{
		"count":   m.gcCount.Load(),
		"enabled": cfg.EnableGC,
	})
}

// invoke runs a pressure callback with panic isolation. A panicking
// callback must not take down the sampling loop.
func (m *Monitor) invoke(name string, cb Callback, used, limit uint64) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.emitter.Emit(TopicError, event.Payload{
				"error": fmt.Sprintf("%s callback panic: %v", name, r),
			})
		}
	}()
	cb(used, limit)
}

// Stats returns a snapshot of the last sample and counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		HeapUsed:    m.lastHeap,
		RSS:         m.lastRSS,
		Samples:     m.samples.Load(),
		GCCount:     m.gcCount.Load(),
		LastGCTime:  m.lastGC,
		Warnings:    m.warnings.Load(),
		Alerts:      m.alerts.Load(),
		MaxHeapUsed: m.cfg.MaxHeapUsed,
		MaxRSS:      m.cfg.MaxRSS,
	}
}
