package event

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Payload carries event data as loosely typed key/value pairs.
type Payload map[string]any

// Handler receives an emitted event.
type Handler func(topic string, payload Payload)

// Subscription represents a registered handler.
// It is returned by Subscribe and passed to Unsubscribe.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	once    bool
	active  atomic.Bool
}

// Topic returns the topic pattern this subscription was registered with.
func (s *Subscription) Topic() string {
	return s.topic
}

// IsActive returns true until the subscription is cancelled or, for Once
// subscriptions, until it has fired.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// Stats reports emitter counters.
type Stats struct {
	Emitted           uint64
	Delivered         uint64
	HandlerPanics     uint64
	ActiveSubscribers int
}

// Emitter is a synchronous, ordered event emitter.
// It is safe for concurrent use.
type Emitter struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID atomic.Uint64

	emitted   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe registers a handler for a topic pattern.
// Pattern segments are dot-separated; a trailing "*" matches any suffix
// ("process.*" matches "process.started"). A bare "*" matches everything.
// A nil handler is ignored and yields an inactive subscription.
func (e *Emitter) Subscribe(topic string, handler Handler) *Subscription {
	return e.subscribe(topic, handler, false)
}

// SubscribeOnce registers a handler that fires at most once.
func (e *Emitter) SubscribeOnce(topic string, handler Handler) *Subscription {
	return e.subscribe(topic, handler, true)
}

func (e *Emitter) subscribe(topic string, handler Handler, once bool) *Subscription {
	sub := &Subscription{
		id:      e.nextID.Add(1),
		topic:   topic,
		handler: handler,
		once:    once,
	}
	if handler == nil || topic == "" {
		return sub
	}
	sub.active.Store(true)

	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	return sub
}

// Unsubscribe cancels a subscription. Cancelling twice is harmless.
func (e *Emitter) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.active.Store(false)
	e.prune()
}

// Emit delivers an event to every matching handler, in subscription order.
// A nil payload is replaced with an empty one.
func (e *Emitter) Emit(topic string, payload Payload) {
	if payload == nil {
		payload = Payload{}
	}

	e.mu.RLock()
	matched := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		if sub.active.Load() && topicMatch(sub.topic, topic) {
			matched = append(matched, sub)
		}
	}
	e.mu.RUnlock()

	e.emitted.Add(1)

	fired := false
	for _, sub := range matched {
		if sub.once {
			// Claim the single delivery; a concurrent Emit loses the race.
			if !sub.active.CompareAndSwap(true, false) {
				continue
			}
			fired = true
		} else if !sub.active.Load() {
			continue
		}
		e.deliver(sub, topic, payload)
	}

	// Spent Once subscriptions would otherwise linger until an explicit
	// Unsubscribe; drop them here so heavy Once use cannot grow the slice.
	if fired {
		e.prune()
	}
}

func (e *Emitter) deliver(sub *Subscription, topic string, payload Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.panics.Add(1)
		}
	}()
	sub.handler(topic, payload)
	e.delivered.Add(1)
}

// prune drops cancelled subscriptions from the slice.
func (e *Emitter) prune() {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.subs[:0]
	for _, sub := range e.subs {
		if sub.active.Load() {
			kept = append(kept, sub)
		}
	}
	// Clear the tail so cancelled subscriptions can be collected.
	for i := len(kept); i < len(e.subs); i++ {
		e.subs[i] = nil
	}
	e.subs = kept
}

// Stats returns current counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	active := 0
	for _, sub := range e.subs {
		if sub.active.Load() {
			active++
		}
	}
	e.mu.RUnlock()

	return Stats{
		Emitted:           e.emitted.Load(),
		Delivered:         e.delivered.Load(),
		HandlerPanics:     e.panics.Load(),
		ActiveSubscribers: active,
	}
}

// topicMatch reports whether a subscription pattern matches a topic.
func topicMatch(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(topic, pattern[:len(pattern)-1])
	}
	return false
}
