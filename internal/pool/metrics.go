package pool

import (
	"sort"
	"sync"
	"time"
)

// latencyWindowSize bounds the rolling acquire-latency sample.
const latencyWindowSize = 100

// metrics collects pool counters and a rolling window of acquire latencies.
// It has its own lock so latency observation never contends with the pool
// mutex.
type metrics struct {
	mu sync.Mutex

	hits      uint64
	misses    uint64
	created   uint64
	destroyed uint64
	timeouts  uint64

	window [latencyWindowSize]time.Duration
	count  int
	next   int
}

func (m *metrics) hit()     { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *metrics) miss()    { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *metrics) create()  { m.mu.Lock(); m.created++; m.mu.Unlock() }
func (m *metrics) destroy() { m.mu.Lock(); m.destroyed++; m.mu.Unlock() }
func (m *metrics) timeout() { m.mu.Lock(); m.timeouts++; m.mu.Unlock() }

// observe records one acquire latency, evicting the oldest sample once the
// window is full.
func (m *metrics) observe(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.window[m.next] = d
	m.next = (m.next + 1) % latencyWindowSize
	if m.count < latencyWindowSize {
		m.count++
	}
}

// latencies returns average, p95 and p99 over the current window.
func (m *metrics) latencies() (avg, p95, p99 time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 {
		return 0, 0, 0
	}

	samples := make([]time.Duration, m.count)
	copy(samples, m.window[:m.count])
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var total time.Duration
	for _, d := range samples {
		total += d
	}
	avg = total / time.Duration(m.count)
	p95 = samples[percentileIndex(m.count, 95)]
	p99 = samples[percentileIndex(m.count, 99)]
	return avg, p95, p99
}

func percentileIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func (m *metrics) snapshot() (hits, misses, created, destroyed, timeouts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.created, m.destroyed, m.timeouts
}
