// Package memory samples process memory on a timer and converts limit
// breaches into backpressure signals.
//
// Two measurements are taken per tick: Go heap usage from
// runtime.ReadMemStats and resident set size from the OS via gopsutil.
// Crossing the soft threshold (a percentage of the heap limit) emits a
// warning and attempts a garbage collection; crossing a hard limit emits an
// alert and invokes the registered exceeded callback. Callbacks are panic
// isolated: a misbehaving callback becomes a memory.error event, and the
// sampling loop keeps running.
package memory
