// Package waiter replaces fixed-duration sleeps with adaptive condition
// polling.
//
// The core primitive is WaitForCondition, which evaluates a predicate with
// growing, jittered delays between attempts until the predicate is satisfied
// or the wait times out:
//
//	res := waiter.WaitForCondition(ctx, func(ctx context.Context) (any, error) {
//	    return fileExists(path), nil
//	}, waiter.Options{Timeout: 5 * time.Second})
//	if !res.Success {
//	    return fmt.Errorf("file never appeared: %w", res.LastErr)
//	}
//
// A timed-out wait reports Success=false and the last captured error; it
// never returns an error itself. Turning a failed wait into an error is the
// caller's choice.
//
// Specialized helpers cover the common cases in this codebase: waiting for
// process start/exit, for output to match a pattern, for a shell prompt, and
// for retrying a fallible operation.
//
// Backoff strategies (linear, exponential, fibonacci, quadratic) are plain
// IntervalFunc values and can be selected by name with StrategyByName.
package waiter
