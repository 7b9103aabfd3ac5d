package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/terminal"
)

// Defaults for Config.
const (
	DefaultMaxSize            = 10
	DefaultIdleTimeout        = 5 * time.Minute
	DefaultMaxAge             = 30 * time.Minute
	DefaultAcquisitionTimeout = 30 * time.Second
)

// TerminalConfig identifies a reusable terminal. Two requests with the same
// key are interchangeable and may share a pooled instance.
type TerminalConfig struct {
	Shell   string
	Args    []string
	Env     []string
	WorkDir string
	Cols    int
	Rows    int
}

// Key returns a deterministic identity for the configuration. The
// environment is sorted so declaration order does not split the pool.
func (c TerminalConfig) Key() string {
	env := append([]string(nil), c.Env...)
	sort.Strings(env)

	var b strings.Builder
	b.WriteString(c.Shell)
	b.WriteByte(0)
	b.WriteString(strings.Join(c.Args, "\x1f"))
	b.WriteByte(0)
	b.WriteString(c.WorkDir)
	b.WriteByte(0)
	b.WriteString(strings.Join(env, "\x1f"))
	return b.String()
}

// Config tunes pool capacity and reuse policy.
type Config struct {
	// MaxSize bounds the number of live terminals, including ones still
	// being created.
	MaxSize int

	// MinSize is the number of entries CleanupIdle retains even when they
	// are stale.
	MinSize int

	// IdleTimeout is how long an unused terminal may sit idle before
	// CleanupIdle destroys it.
	IdleTimeout time.Duration

	// MaxAge bounds total terminal lifetime regardless of use.
	MaxAge time.Duration

	// AcquisitionTimeout bounds how long Acquire waits for a terminal when
	// the pool is at capacity.
	AcquisitionTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.AcquisitionTimeout <= 0 {
		c.AcquisitionTimeout = DefaultAcquisitionTimeout
	}
	return c
}

// Factory creates a started terminal for a configuration. The pool calls it
// without holding any lock and at most once per pooled instance.
type Factory func(ctx context.Context, cfg TerminalConfig) (*terminal.Terminal, error)

// entry is one pool slot. A starting entry is a capacity reservation whose
// factory call is still in flight.
type entry struct {
	term      *terminal.Terminal
	key       string
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
	starting  bool
}

type waitResult struct {
	term *terminal.Terminal
	err  error
}

type waitRequest struct {
	key      string
	cfg      TerminalConfig
	ctx      context.Context
	deadline time.Time
	ch       chan waitResult
}

// expired returns the terminal error for a request whose acquirer already
// gave up, or nil while the request is still live.
func (r *waitRequest) expired(timeout time.Duration) error {
	if r.ctx != nil && r.ctx.Err() != nil {
		return r.ctx.Err()
	}
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		return &AcquireTimeoutError{Timeout: timeout}
	}
	return nil
}

// Stats is a point-in-time snapshot of pool state and counters.
type Stats struct {
	Size      int
	InUse     int
	Idle      int
	Waiting   int
	Hits      uint64
	Misses    uint64
	Created   uint64
	Destroyed uint64
	Timeouts  uint64

	AvgAcquireLatency time.Duration
	P95AcquireLatency time.Duration
	P99AcquireLatency time.Duration
}

// Pool is a bounded, keyed terminal pool. Safe for concurrent use.
type Pool struct {
	cfg     Config
	factory Factory

	mu        sync.Mutex
	entries   []*entry
	waiters   []*waitRequest
	destroyed bool

	metrics metrics
}

// New creates a pool. The factory must not be nil.
func New(cfg Config, factory Factory) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		factory: factory,
	}
}

// Acquire returns a terminal matching cfg, creating or waiting as needed.
// The returned terminal is exclusively checked out until Release.
func (p *Pool) Acquire(ctx context.Context, cfg TerminalConfig) (*terminal.Terminal, error) {
	start := time.Now()
	key := cfg.Key()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, ErrPoolDestroyed
	}

	if e := p.idleLocked(key); e != nil {
		e.inUse = true
		e.lastUsed = time.Now()
		term := e.term
		p.mu.Unlock()
		p.metrics.hit()
		p.metrics.observe(time.Since(start))
		return term, nil
	}

	if len(p.entries) < p.cfg.MaxSize {
		return p.createLocked(ctx, cfg, key, start)
	}

	// At capacity. An idle terminal with a different key is dead weight for
	// this request; recycle the least recently used one to make room.
	if victim := p.lruIdleLocked(); victim != nil {
		p.removeLocked(victim)
		term := victim.term
		p.mu.Unlock()
		_ = term.Destroy()
		p.metrics.destroy()
		p.mu.Lock()
		if p.destroyed {
			p.mu.Unlock()
			return nil, ErrPoolDestroyed
		}
		if len(p.entries) < p.cfg.MaxSize {
			return p.createLocked(ctx, cfg, key, start)
		}
		// The freed slot was taken while the victim was being destroyed;
		// fall through and queue.
	}

	// Everything is busy; queue FIFO.
	req := &waitRequest{
		key:      key,
		cfg:      cfg,
		ctx:      ctx,
		deadline: time.Now().Add(p.cfg.AcquisitionTimeout),
		ch:       make(chan waitResult, 1),
	}
	p.waiters = append(p.waiters, req)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquisitionTimeout)
	defer timer.Stop()

	select {
	case res := <-req.ch:
		if res.err != nil {
			return nil, res.err
		}
		p.metrics.observe(time.Since(start))
		return res.term, nil
	case <-timer.C:
		if p.removeWaiter(req) {
			p.metrics.timeout()
			return nil, &AcquireTimeoutError{Timeout: p.cfg.AcquisitionTimeout}
		}
	case <-ctx.Done():
		if p.removeWaiter(req) {
			return nil, ctx.Err()
		}
	}

	// Lost the removal race: the request was already served. Take the
	// result rather than leaking a checked-out terminal.
	res := <-req.ch
	if res.err != nil {
		return nil, res.err
	}
	p.metrics.observe(time.Since(start))
	return res.term, nil
}

// createLocked reserves capacity, runs the factory unlocked, and either
// confirms the entry or rolls the reservation back. Called with p.mu held;
// returns with it released.
func (p *Pool) createLocked(ctx context.Context, cfg TerminalConfig, key string, start time.Time) (*terminal.Terminal, error) {
	res := &entry{key: key, starting: true, createdAt: time.Now()}
	p.entries = append(p.entries, res)
	p.mu.Unlock()

	term, err := p.factory(ctx, cfg)

	p.mu.Lock()
	if err != nil {
		p.removeLocked(res)
		req := p.popWaiterLocked()
		p.mu.Unlock()
		if req != nil {
			go p.createForWaiter(req)
		}
		return nil, fmt.Errorf("create pooled terminal: %w", err)
	}
	if p.destroyed {
		p.removeLocked(res)
		p.mu.Unlock()
		_ = term.Destroy()
		return nil, ErrPoolDestroyed
	}

	now := time.Now()
	res.term = term
	res.starting = false
	res.inUse = true
	res.lastUsed = now
	p.mu.Unlock()

	p.metrics.miss()
	p.metrics.create()
	p.metrics.observe(time.Since(start))
	return term, nil
}

// createForWaiter builds a fresh terminal for a queued request after
// capacity freed up.
func (p *Pool) createForWaiter(req *waitRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquisitionTimeout)
	defer cancel()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		req.ch <- waitResult{err: ErrPoolDestroyed}
		return
	}
	if len(p.entries) >= p.cfg.MaxSize {
		// Someone else took the slot. The acquirer may already be past its
		// timer and blocked on the channel, so a silent requeue could
		// strand it forever; resolve expired requests here instead.
		if err := req.expired(p.cfg.AcquisitionTimeout); err != nil {
			p.mu.Unlock()
			p.countRejection(err)
			req.ch <- waitResult{err: err}
			return
		}
		p.waiters = append([]*waitRequest{req}, p.waiters...)
		p.mu.Unlock()
		return
	}

	term, err := p.createLocked(ctx, req.cfg, req.key, time.Now())
	req.ch <- waitResult{term: term, err: err}
}

// Release returns a checked-out terminal to the pool. The terminal is reset
// with ClearOutput; if the reset fails the entry is destroyed instead of
// being repooled, and the freed capacity goes to the oldest waiter.
func (p *Pool) Release(term *terminal.Terminal) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPoolDestroyed
	}

	e := p.findLocked(term)
	if e == nil || !e.inUse {
		p.mu.Unlock()
		return ErrNotPooled
	}

	if err := term.ClearOutput(); err != nil {
		p.removeLocked(e)
		req := p.popWaiterLocked()
		p.mu.Unlock()
		_ = term.Destroy()
		p.metrics.destroy()
		if req != nil {
			go p.createForWaiter(req)
		}
		return nil
	}

	now := time.Now()
	e.inUse = false
	e.lastUsed = now

	// Hand the idle terminal straight to the oldest matching waiter.
	if req := p.popWaiterByKeyLocked(e.key); req != nil {
		e.inUse = true
		e.lastUsed = now
		p.mu.Unlock()
		p.metrics.hit()
		req.ch <- waitResult{term: e.term}
		return nil
	}

	p.mu.Unlock()
	return nil
}

// CleanupIdle destroys idle terminals past IdleTimeout or MaxAge, keeping at
// least MinSize entries. Returns the number destroyed.
func (p *Pool) CleanupIdle() int {
	now := time.Now()

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return 0
	}

	var victims []*entry
	for _, e := range p.entries {
		if e.inUse || e.starting {
			continue
		}
		if len(p.entries)-len(victims) <= p.cfg.MinSize {
			break
		}
		if now.Sub(e.lastUsed) > p.cfg.IdleTimeout || now.Sub(e.createdAt) > p.cfg.MaxAge {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		p.removeLocked(e)
	}
	p.mu.Unlock()

	for _, e := range victims {
		_ = e.term.Destroy()
		p.metrics.destroy()
	}
	return len(victims)
}

// DestroyAll destroys every terminal regardless of checkout state and
// rejects all queued waiters. Idempotent; the pool is unusable afterwards.
func (p *Pool) DestroyAll() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	entries := p.entries
	waiters := p.waiters
	p.entries = nil
	p.waiters = nil
	p.mu.Unlock()

	for _, req := range waiters {
		req.ch <- waitResult{err: ErrPoolDestroyed}
	}
	for _, e := range entries {
		if e.term != nil {
			_ = e.term.Destroy()
			p.metrics.destroy()
		}
	}
}

// Size returns the current entry count, including in-flight reservations.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stats returns a snapshot of pool state and counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	var inUse, idle int
	for _, e := range p.entries {
		switch {
		case e.inUse || e.starting:
			inUse++
		default:
			idle++
		}
	}
	s := Stats{
		Size:    len(p.entries),
		InUse:   inUse,
		Idle:    idle,
		Waiting: len(p.waiters),
	}
	p.mu.Unlock()

	s.Hits, s.Misses, s.Created, s.Destroyed, s.Timeouts = p.metrics.snapshot()
	s.AvgAcquireLatency, s.P95AcquireLatency, s.P99AcquireLatency = p.metrics.latencies()
	return s
}

// idleLocked returns an idle entry with the given key, or nil.
func (p *Pool) idleLocked(key string) *entry {
	for _, e := range p.entries {
		if !e.inUse && !e.starting && e.key == key {
			return e
		}
	}
	return nil
}

// lruIdleLocked returns the least recently used idle entry, or nil.
func (p *Pool) lruIdleLocked() *entry {
	var victim *entry
	for _, e := range p.entries {
		if e.inUse || e.starting {
			continue
		}
		if victim == nil || e.lastUsed.Before(victim.lastUsed) {
			victim = e
		}
	}
	return victim
}

func (p *Pool) findLocked(term *terminal.Terminal) *entry {
	for _, e := range p.entries {
		if e.term == term {
			return e
		}
	}
	return nil
}

func (p *Pool) removeLocked(target *entry) {
	for i, e := range p.entries {
		if e == target {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// popWaiterLocked removes and returns the oldest live waiter, or nil.
// Requests that expired while queued are resolved with their terminal
// error on the spot; spawning a terminal for a departed acquirer would
// waste the freed slot and starve the next waiter.
func (p *Pool) popWaiterLocked() *waitRequest {
	for len(p.waiters) > 0 {
		req := p.waiters[0]
		p.waiters = p.waiters[1:]
		err := req.expired(p.cfg.AcquisitionTimeout)
		if err == nil {
			return req
		}
		p.countRejection(err)
		req.ch <- waitResult{err: err}
	}
	return nil
}

// countRejection records a timeout rejection; context cancellations are
// the caller's doing and stay out of the timeout counter.
func (p *Pool) countRejection(err error) {
	var timeoutErr *AcquireTimeoutError
	if errors.As(err, &timeoutErr) {
		p.metrics.timeout()
	}
}

// popWaiterByKeyLocked removes and returns the oldest waiter with the given
// key, preserving FIFO order within the key.
func (p *Pool) popWaiterByKeyLocked(key string) *waitRequest {
	for i, req := range p.waiters {
		if req.key == key {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return req
		}
	}
	return nil
}

// removeWaiter withdraws a queued request. It returns false when the request
// was already served, in which case the result channel holds the outcome.
func (p *Pool) removeWaiter(target *waitRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, req := range p.waiters {
		if req == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}
