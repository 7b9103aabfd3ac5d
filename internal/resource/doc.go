// Package resource ties the terminal pool, the memory monitor and the
// buffer store together behind one facade.
//
// The optimizer owns the cross-component wiring the pieces deliberately do
// not know about each other: pooled terminals spawn on the shared process
// manager, a hard heap breach drains idle terminals and force-rotates
// buffers, and a hard RSS breach clears buffers aggressively. Metrics from
// all three components are aggregated on demand and, when enabled,
// published periodically as metrics.updated events.
package resource
