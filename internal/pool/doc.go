// Package pool maintains a bounded set of reusable PTY terminals keyed by
// their spawn configuration.
//
// Acquire hands out an idle terminal with a matching configuration when one
// exists, creates a new one while the pool is below MaxSize, and otherwise
// queues the request FIFO until a matching terminal is released, capacity
// frees up, or the acquisition timeout fires. Terminals are reset with
// ClearOutput on release; a terminal that cannot be reset is destroyed
// instead of being repooled.
//
// No lock is held across terminal creation. Capacity is reserved under the
// pool mutex, the factory runs unlocked, and the reservation is rolled back
// if the factory fails, so a slow shell spawn never blocks releases or
// other acquisitions.
package pool
