package resource

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/buffer"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/memory"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/pool"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/process"
	"github.com/rysweet/gadugi-agentic-test-sub003/internal/terminal"
)

func newTestOptimizer(t *testing.T, cfg Config) (*Optimizer, *process.Manager) {
	t.Helper()

	// Generous limits so background sampling never fires pressure
	// callbacks mid-test.
	if cfg.Memory.MaxHeapUsed == 0 {
		cfg.Memory.MaxHeapUsed = 1 << 50
	}
	if cfg.Memory.MaxRSS == 0 {
		cfg.Memory.MaxRSS = 1 << 50
	}

	mgr := process.NewManager(nil)
	t.Cleanup(mgr.Destroy)

	o := New(cfg, mgr, nil)
	t.Cleanup(o.Destroy)
	return o, mgr
}

func shellConfig() pool.TerminalConfig {
	return pool.TerminalConfig{Shell: "/bin/sh", Env: []string{"PS1=$ "}}
}

func TestOptimizer_TerminalRoundTrip(t *testing.T) {
	o, mgr := newTestOptimizer(t, Config{})

	created := make(chan string, 1)
	mgr.Events().Subscribe(TopicResourceCreated, func(_ string, p event.Payload) {
		if kind, _ := p["kind"].(string); kind == "terminal" {
			created <- p["id"].(string)
		}
	})

	term, err := o.AcquireTerminal(context.Background(), shellConfig())
	if err != nil {
		t.Fatalf("AcquireTerminal: %v", err)
	}

	select {
	case id := <-created:
		if id != term.ID() {
			t.Errorf("resource.created id = %s, want %s", id, term.ID())
		}
	default:
		t.Error("no resource.created event for the new terminal")
	}

	out, err := term.ExecuteCommand(context.Background(), "echo pooled", terminal.ExecOptions{
		ExpectedOutput: "pooled",
		Timeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("ExecuteCommand: %v\noutput: %q", err, out)
	}

	if err := o.ReleaseTerminal(term); err != nil {
		t.Fatalf("ReleaseTerminal: %v", err)
	}

	again, err := o.AcquireTerminal(context.Background(), shellConfig())
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if again != term {
		t.Error("identical config should return the pooled instance")
	}
}

func TestOptimizer_BufferLifecycle(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{})

	payload := bytes.Repeat([]byte("screenshot"), 100)
	id, err := o.CreateBuffer(payload, true)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	got, err := o.GetBuffer(id)
	if err != nil {
		t.Fatalf("GetBuffer: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("buffer payload corrupted through compression round trip")
	}

	if !o.DestroyBuffer(id) {
		t.Error("DestroyBuffer = false for a live buffer")
	}
	if o.DestroyBuffer(id) {
		t.Error("DestroyBuffer = true after removal")
	}
}

func TestOptimizer_HeapPressureDrainsIdleResources(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{
		Pool: pool.Config{MaxSize: 2, IdleTimeout: time.Nanosecond},
	})
	ctx := context.Background()

	term, err := o.AcquireTerminal(ctx, shellConfig())
	if err != nil {
		t.Fatalf("AcquireTerminal: %v", err)
	}
	if err := o.ReleaseTerminal(term); err != nil {
		t.Fatalf("ReleaseTerminal: %v", err)
	}
	if _, err := o.CreateBuffer([]byte("stale"), false); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// Shrink the heap limit and force a sample so the hard-limit callback
	// runs deterministically.
	o.UpdateMemoryLimits(memory.Config{MaxHeapUsed: 1, MaxRSS: 1 << 50})
	o.monitor.Sample()

	if size := o.Metrics().Pool.Size; size != 0 {
		t.Errorf("pool size = %d after heap pressure, want 0", size)
	}
	if count := o.Metrics().Buffer.Count; count != 0 {
		t.Errorf("buffer count = %d after heap pressure, want 0", count)
	}
}

func TestOptimizer_RSSPressureClearsBuffersAggressively(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{})

	for i := 0; i < 8; i++ {
		if _, err := o.CreateBuffer([]byte{byte(i)}, false); err != nil {
			t.Fatalf("CreateBuffer: %v", err)
		}
	}

	o.UpdateMemoryLimits(memory.Config{MaxHeapUsed: 1 << 50, MaxRSS: 1})
	o.monitor.Sample()

	if count := o.Metrics().Buffer.Count; count != 5 {
		t.Errorf("buffer count = %d after rss pressure, want the 5 hottest", count)
	}
}

func TestOptimizer_CleanupIdleResources(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{
		Pool:   pool.Config{MaxSize: 2, IdleTimeout: time.Nanosecond},
		Buffer: buffer.Config{RotationInterval: time.Nanosecond},
	})
	ctx := context.Background()

	term, err := o.AcquireTerminal(ctx, shellConfig())
	if err != nil {
		t.Fatalf("AcquireTerminal: %v", err)
	}
	if err := o.ReleaseTerminal(term); err != nil {
		t.Fatalf("ReleaseTerminal: %v", err)
	}
	if _, err := o.CreateBuffer([]byte("aged"), false); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if n := o.CleanupIdleResources(); n != 2 {
		t.Errorf("CleanupIdleResources = %d, want 2 (one terminal, one buffer)", n)
	}
}

func TestOptimizer_MetricsAggregates(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{})

	term, err := o.AcquireTerminal(context.Background(), shellConfig())
	if err != nil {
		t.Fatalf("AcquireTerminal: %v", err)
	}
	defer o.ReleaseTerminal(term)
	if _, err := o.CreateBuffer([]byte("data"), false); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	o.monitor.Sample()

	m := o.Metrics()
	if m.Pool.Size != 1 || m.Pool.InUse != 1 {
		t.Errorf("pool stats = size=%d inUse=%d, want 1/1", m.Pool.Size, m.Pool.InUse)
	}
	if m.Buffer.Count != 1 {
		t.Errorf("buffer count = %d, want 1", m.Buffer.Count)
	}
	if m.Memory.HeapUsed == 0 {
		t.Error("memory snapshot missing heap sample")
	}
	if m.Timestamp.IsZero() {
		t.Error("metrics snapshot not timestamped")
	}
}

func TestOptimizer_MetricsUpdatedEvents(t *testing.T) {
	mgr := process.NewManager(nil)
	defer mgr.Destroy()

	updates := make(chan event.Payload, 4)
	mgr.Events().Subscribe(TopicMetricsUpdated, func(_ string, p event.Payload) {
		select {
		case updates <- p:
		default:
		}
	})

	o := New(Config{
		EnableMetrics: true,
		Memory: memory.Config{
			MaxHeapUsed:   1 << 50,
			MaxRSS:        1 << 50,
			CheckInterval: 20 * time.Millisecond,
		},
	}, mgr, nil)
	defer o.Destroy()

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no metrics.updated event with metrics enabled")
	}
}

func TestOptimizer_DestroyIdempotentAndTerminal(t *testing.T) {
	o, _ := newTestOptimizer(t, Config{})

	term, err := o.AcquireTerminal(context.Background(), shellConfig())
	if err != nil {
		t.Fatalf("AcquireTerminal: %v", err)
	}
	if _, err := o.CreateBuffer([]byte("x"), false); err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	o.Destroy()
	o.Destroy()

	if term.State() != terminal.StateDestroyed {
		t.Error("checked-out terminal survived Destroy")
	}
	if _, err := o.AcquireTerminal(context.Background(), shellConfig()); !errors.Is(err, ErrDestroyed) {
		t.Errorf("AcquireTerminal after Destroy = %v, want ErrDestroyed", err)
	}
	if _, err := o.CreateBuffer([]byte("y"), false); !errors.Is(err, ErrDestroyed) {
		t.Errorf("CreateBuffer after Destroy = %v, want ErrDestroyed", err)
	}
	if _, err := o.GetBuffer("any"); !errors.Is(err, ErrDestroyed) {
		t.Errorf("GetBuffer after Destroy = %v, want ErrDestroyed", err)
	}
}
