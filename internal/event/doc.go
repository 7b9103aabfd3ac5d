// Package event provides the observer mechanism used by the resource core.
//
// Components (the process manager, terminals, the pool, the memory monitor,
// and the buffer store) report state transitions by emitting events on a
// shared Emitter. Consumers register handlers for hierarchical dot-separated
// topics such as "process.started" or "terminal.data". A trailing "*"
// segment subscribes to a whole subtree:
//
//	emitter := event.NewEmitter()
//	sub := emitter.Subscribe("process.*", func(topic string, p event.Payload) {
//	    fmt.Println(topic, p["pid"])
//	})
//	defer emitter.Unsubscribe(sub)
//
// # Delivery Guarantees
//
//   - Delivery is synchronous: Emit returns after every matching handler ran.
//   - Handlers run in subscription order; ordering is preserved per emitter.
//   - A Once subscription fires at most once, even under concurrent emits.
//   - A panicking handler is recovered and counted; it never stops delivery
//     to the remaining handlers.
//
// Handlers must not block; long-running work belongs in the consumer's own
// goroutine.
package event
