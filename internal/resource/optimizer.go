package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/buffer"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/memory"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/pool"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/process"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/terminal"
)

// Event topics emitted by the optimizer.
const (
	TopicResourceCreated   = "resource.created"
	TopicResourceDestroyed = "resource.destroyed"
	TopicMetricsUpdated    = "metrics.updated"
)

// ErrDestroyed is returned for operations on a destroyed optimizer.
var ErrDestroyed = errors.New("resource optimizer is destroyed")

// Config assembles the component configurations.
type Config struct {
	Pool   pool.Config
	Memory memory.Config
	Buffer buffer.Config

	// EnableMetrics turns on periodic metrics.updated events.
	EnableMetrics bool
}

// Metrics aggregates component snapshots.
type Metrics struct {
	Pool      pool.Stats
	Memory    memory.Stats
	Buffer    buffer.Stats
	Timestamp time.Time
}

// Optimizer is the resource facade. Safe for concurrent use.
type Optimizer struct {
	emitter *event.Emitter
	manager *process.Manager
	pool    *pool.Pool
	monitor *memory.Monitor
	buffers *buffer.Store

	mu        sync.Mutex
	stop      chan struct{}
	done      chan struct{}
	destroyed atomic.Bool
}

// New builds an optimizer on a shared process manager. A nil emitter means
// the manager's own event bus carries all resource events, which keeps
// terminal and optimizer events on one stream.
func New(cfg Config, manager *process.Manager, emitter *event.Emitter) *Optimizer {
	if emitter == nil {
		emitter = manager.Events()
	}

	o := &Optimizer{
		emitter: emitter,
		manager: manager,
		monitor: memory.NewMonitor(cfg.Memory, emitter),
		buffers: buffer.NewStore(cfg.Buffer, emitter),
	}

	o.pool = pool.New(cfg.Pool, func(ctx context.Context, tc pool.TerminalConfig) (*terminal.Terminal, error) {
		term := terminal.New(manager, terminal.Options{
			Shell:   tc.Shell,
			Args:    tc.Args,
			Env:     tc.Env,
			WorkDir: tc.WorkDir,
			Cols:    tc.Cols,
			Rows:    tc.Rows,
		})
		if err := term.Start(ctx); err != nil {
			return nil, err
		}
		emitter.Emit(TopicResourceCreated, event.Payload{
			"kind": "terminal",
			"id":   term.ID(),
			"pid":  term.PID(),
		})
		return term, nil
	})

	// Memory pressure flows into the pool and the buffer store; neither
	// component watches memory itself.
	o.monitor.SetHeapExceededCallback(func(used, limit uint64) {
		cleaned := o.pool.CleanupIdle()
		rotated := o.buffers.Rotate(true)
		if cleaned+rotated > 0 {
			emitter.Emit(TopicResourceDestroyed, event.Payload{
				"reason":    "heap pressure",
				"terminals": cleaned,
				"buffers":   rotated,
			})
		}
	})
	o.monitor.SetRSSExceededCallback(func(used, limit uint64) {
		if cleared := o.buffers.AggressiveClear(); cleared > 0 {
			emitter.Emit(TopicResourceDestroyed, event.Payload{
				"reason":  "rss pressure",
				"buffers": cleared,
			})
		}
	})
	o.monitor.Start()

	if cfg.EnableMetrics {
		interval := cfg.Memory.CheckInterval
		if interval <= 0 {
			interval = memory.DefaultCheckInterval
		}
		o.stop = make(chan struct{})
		o.done = make(chan struct{})
		go o.publishMetrics(interval)
	}

	return o
}

func (o *Optimizer) publishMetrics(interval time.Duration) {
	defer close(o.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m := o.Metrics()
			o.emitter.Emit(TopicMetricsUpdated, event.Payload{
				"poolSize":    m.Pool.Size,
				"poolInUse":   m.Pool.InUse,
				"heapUsed":    m.Memory.HeapUsed,
				"rss":         m.Memory.RSS,
				"bufferCount": m.Buffer.Count,
				"bufferBytes": m.Buffer.StoredBytes,
			})
		case <-o.stop:
			return
		}
	}
}

// AcquireTerminal checks a terminal out of the pool, creating one if needed.
func (o *Optimizer) AcquireTerminal(ctx context.Context, cfg pool.TerminalConfig) (*terminal.Terminal, error) {
	if o.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return o.pool.Acquire(ctx, cfg)
}

// ReleaseTerminal returns a terminal to the pool.
func (o *Optimizer) ReleaseTerminal(term *terminal.Terminal) error {
	if o.destroyed.Load() {
		return ErrDestroyed
	}
	return o.pool.Release(term)
}

// CreateBuffer stores a payload in the buffer store.
func (o *Optimizer) CreateBuffer(data []byte, compress bool) (string, error) {
	if o.destroyed.Load() {
		return "", ErrDestroyed
	}
	return o.buffers.Create(data, compress)
}

// GetBuffer retrieves a stored payload.
func (o *Optimizer) GetBuffer(id string) ([]byte, error) {
	if o.destroyed.Load() {
		return nil, ErrDestroyed
	}
	return o.buffers.Get(id)
}

// DestroyBuffer removes a stored payload, reporting whether it existed.
func (o *Optimizer) DestroyBuffer(id string) bool {
	if o.destroyed.Load() {
		return false
	}
	return o.buffers.Destroy(id)
}

// CleanupIdleResources drains stale pooled terminals and rotates aged
// buffers, returning the total number of resources reclaimed.
func (o *Optimizer) CleanupIdleResources() int {
	if o.destroyed.Load() {
		return 0
	}
	cleaned := o.pool.CleanupIdle()
	rotated := o.buffers.Rotate(false)
	if cleaned+rotated > 0 {
		o.emitter.Emit(TopicResourceDestroyed, event.Payload{
			"reason":    "idle cleanup",
			"terminals": cleaned,
			"buffers":   rotated,
		})
	}
	return cleaned + rotated
}

// UpdateMemoryLimits retunes the monitor, typically from a config reload.
func (o *Optimizer) UpdateMemoryLimits(cfg memory.Config) {
	if o.destroyed.Load() {
		return
	}
	o.monitor.UpdateLimits(cfg)
}

// Metrics returns an aggregated snapshot of all components.
func (o *Optimizer) Metrics() Metrics {
	return Metrics{
		Pool:      o.pool.Stats(),
		Memory:    o.monitor.Stats(),
		Buffer:    o.buffers.Stats(),
		Timestamp: time.Now(),
	}
}

// Destroy tears everything down: the metrics loop, the monitor, every
// pooled terminal and all buffers. Idempotent and never fails.
func (o *Optimizer) Destroy() {
	if !o.destroyed.CompareAndSwap(false, true) {
		return
	}

	o.mu.Lock()
	stop, done := o.stop, o.done
	o.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}

	o.monitor.Stop()
	o.pool.DestroyAll()
	o.buffers.Rotate(true)
}
