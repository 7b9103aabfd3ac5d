package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
)

// collector records emitted topics in order.
type collector struct {
	mu     sync.Mutex
	topics []string
}

func (c *collector) attach(e *event.Emitter, topics ...string) {
	for _, topic := range topics {
		e.Subscribe(topic, func(topic string, _ event.Payload) {
			c.mu.Lock()
			c.topics = append(c.topics, topic)
			c.mu.Unlock()
		})
	}
}

func (c *collector) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.topics {
		if got == topic {
			n++
		}
	}
	return n
}

func TestMonitor_SoftThresholdWarnsAndTriggersGC(t *testing.T) {
	e := event.NewEmitter()
	var c collector
	c.attach(e, TopicWarning, TopicAlert, TopicGCTriggered)

	// 16 MiB of live ballast lands the heap between the ~2.5 MiB soft
	// threshold and the 256 MiB hard limit.
	ballast := make([]byte, 16<<20)
	m := NewMonitor(Config{
		MaxHeapUsed:        256 << 20,
		MaxRSS:             1 << 60,
		GCThresholdPercent: 1,
	}, e)

	m.Sample()
	_ = ballast[0]

	if c.count(TopicWarning) == 0 {
		t.Error("no memory.warning above the soft threshold")
	}
	if c.count(TopicAlert) != 0 {
		t.Error("memory.alert emitted below the hard limits")
	}
	if c.count(TopicGCTriggered) == 0 {
		t.Error("no gc.triggered for a soft-threshold breach")
	}

	s := m.Stats()
	if s.GCCount == 0 {
		t.Error("GC attempts not counted")
	}
	if s.LastGCTime.IsZero() {
		t.Error("GC attempt not timestamped")
	}
	if s.HeapUsed == 0 {
		t.Error("heap sample not recorded")
	}
}

func TestMonitor_HardLimitsAlertAndInvokeCallbacks(t *testing.T) {
	e := event.NewEmitter()
	var c collector
	c.attach(e, TopicAlert)

	m := NewMonitor(Config{MaxHeapUsed: 1, MaxRSS: 1}, e)

	var mu sync.Mutex
	var heapHits, rssHits int
	m.SetHeapExceededCallback(func(used, limit uint64) {
		mu.Lock()
		heapHits++
		mu.Unlock()
		if used <= limit {
			t.Errorf("heap callback used=%d limit=%d, used should exceed limit", used, limit)
		}
	})
	m.SetRSSExceededCallback(func(used, limit uint64) {
		mu.Lock()
		rssHits++
		mu.Unlock()
	})

	m.Sample()

	mu.Lock()
	defer mu.Unlock()
	if heapHits != 1 {
		t.Errorf("heap callback invoked %d times, want 1", heapHits)
	}
	if rssHits != 1 {
		t.Errorf("rss callback invoked %d times, want 1", rssHits)
	}
	if c.count(TopicAlert) != 2 {
		t.Errorf("memory.alert emitted %d times, want 2 (heap + rss)", c.count(TopicAlert))
	}
}

func TestMonitor_CallbackPanicIsolated(t *testing.T) {
	e := event.NewEmitter()
	var c collector
	c.attach(e, TopicError)

	m := NewMonitor(Config{MaxHeapUsed: 1, MaxRSS: 1 << 60}, e)
	m.SetHeapExceededCallback(func(uint64, uint64) {
		panic("callback exploded")
	})

	m.Sample()
	m.Sample()

	if c.count(TopicError) != 2 {
		t.Errorf("memory.error emitted %d times, want 2", c.count(TopicError))
	}
	if m.Stats().Samples != 2 {
		t.Error("sampling stopped after a callback panic")
	}
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	e := event.NewEmitter()
	m := NewMonitor(Config{CheckInterval: 10 * time.Millisecond}, e)

	m.Start()
	m.Start()
	if !m.IsRunning() {
		t.Fatal("monitor not running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.Stats().Samples == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if m.Stats().Samples == 0 {
		t.Error("timer loop never sampled")
	}

	m.Stop()
	m.Stop()
	if m.IsRunning() {
		t.Error("monitor still running after Stop")
	}

	count := m.Stats().Samples
	time.Sleep(50 * time.Millisecond)
	if m.Stats().Samples != count {
		t.Error("sampling continued after Stop")
	}
}

func TestMonitor_UpdateLimits(t *testing.T) {
	e := event.NewEmitter()
	var c collector
	c.attach(e, TopicAlert)

	m := NewMonitor(Config{MaxHeapUsed: 1 << 60, MaxRSS: 1 << 60}, e)
	m.Sample()
	if c.count(TopicAlert) != 0 {
		t.Fatal("alert under generous limits")
	}

	m.UpdateLimits(Config{MaxHeapUsed: 1, MaxRSS: 1 << 60})
	m.Sample()
	if c.count(TopicAlert) != 1 {
		t.Errorf("alerts = %d after tightening limits, want 1", c.count(TopicAlert))
	}

	if m.Stats().MaxHeapUsed != 1 {
		t.Errorf("MaxHeapUsed = %d, want the updated limit", m.Stats().MaxHeapUsed)
	}
}

func TestMonitor_GCDisabledStillCounts(t *testing.T) {
	e := event.NewEmitter()
	var c collector
	c.attach(e, TopicGCTriggered)

	ballast := make([]byte, 16<<20)
	m := NewMonitor(Config{
		MaxHeapUsed:        256 << 20,
		MaxRSS:             1 << 60,
		GCThresholdPercent: 1,
		EnableGC:           false,
	}, e)

	m.Sample()
	_ = ballast[0]

	if c.count(TopicGCTriggered) != 1 {
		t.Error("disabled GC should still record the attempt")
	}
	if m.Stats().GCCount != 1 {
		t.Errorf("GCCount = %d, want 1", m.Stats().GCCount)
	}
}
