package waiter

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Default polling parameters.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultInitialDelay      = 100 * time.Millisecond
	DefaultMaxDelay          = 5 * time.Second
	DefaultBackoffMultiplier = 1.5
	DefaultJitter            = 0.1
)

// Condition is a predicate evaluated on each polling attempt.
//
// The wait is satisfied when the condition returns a nil error and a value
// that is neither nil nor false. A non-nil error is captured as the last
// error and treated as "not yet satisfied".
type Condition func(ctx context.Context) (any, error)

// IntervalFunc computes the delay before the next attempt.
// attempt starts at 1 for the delay after the first failed attempt.
type IntervalFunc func(attempt int, base time.Duration) time.Duration

// Options configures a wait.
type Options struct {
	// Timeout is the wall-clock budget measured from the first attempt.
	Timeout time.Duration

	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the grown delay.
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay after each attempt.
	BackoffMultiplier float64

	// Jitter applies multiplicative jitter of ±Jitter·delay/2.
	Jitter float64

	// Interval, when set, overrides the built-in backoff entirely.
	Interval IntervalFunc
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.Jitter == 0 {
		o.Jitter = DefaultJitter
	}
	// A negative Jitter disables jitter entirely.
	return o
}

// Result reports the outcome of a wait.
type Result struct {
	// Success is true when the condition was satisfied within the timeout.
	Success bool

	// Attempts is the number of condition evaluations performed.
	Attempts int

	// TotalWait is the elapsed wall-clock time of the wait.
	TotalWait time.Duration

	// Value is the satisfying value returned by the condition.
	Value any

	// LastErr is the last error the condition returned, if any.
	LastErr error
}

// WaitForCondition polls cond until it is satisfied, the timeout elapses, or
// the context is cancelled. It never returns an error; inspect Result.
func WaitForCondition(ctx context.Context, cond Condition, opts Options) Result {
	opts = opts.withDefaults()

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	delay := opts.InitialDelay

	res := Result{}
	for {
		res.Attempts++

		value, err := cond(ctx)
		if err != nil {
			res.LastErr = err
		} else if satisfied(value) {
			res.Success = true
			res.Value = value
			res.TotalWait = time.Since(start)
			return res
		}

		var next time.Duration
		if opts.Interval != nil {
			next = opts.Interval(res.Attempts, opts.InitialDelay)
		} else {
			next = delay
			delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
			if delay > opts.MaxDelay {
				delay = opts.MaxDelay
			}
		}
		next = applyJitter(next, opts.Jitter)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.TotalWait = time.Since(start)
			return res
		}
		if next > remaining {
			next = remaining
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			if res.LastErr == nil {
				res.LastErr = ctx.Err()
			}
			res.TotalWait = time.Since(start)
			return res
		case <-timer.C:
		}

		if !time.Now().Before(deadline) {
			res.TotalWait = time.Since(start)
			return res
		}
	}
}

// satisfied reports whether a condition value ends the wait.
func satisfied(value any) bool {
	if value == nil {
		return false
	}
	if b, ok := value.(bool); ok {
		return b
	}
	return true
}

// applyJitter spreads a delay by ±jitter·delay/2.
func applyJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}
	spread := jitter * (rand.Float64() - 0.5)
	out := time.Duration(float64(d) * (1 + spread))
	if out < 0 {
		return 0
	}
	return out
}

// WaitForOutput waits until a live output snapshot contains substr or, when
// pattern is non-nil, matches pattern. The snapshot function is evaluated on
// every attempt.
func WaitForOutput(ctx context.Context, snapshot func() string, substr string, pattern *regexp.Regexp, opts Options) Result {
	return WaitForCondition(ctx, func(context.Context) (any, error) {
		out := snapshot()
		if pattern != nil {
			if pattern.MatchString(out) {
				return out, nil
			}
			return nil, nil
		}
		if substr != "" && strings.Contains(out, substr) {
			return out, nil
		}
		return nil, nil
	}, opts)
}

// WaitForTerminalReady waits until the last non-empty line of the output
// snapshot matches the prompt pattern.
func WaitForTerminalReady(ctx context.Context, snapshot func() string, prompt *regexp.Regexp, opts Options) Result {
	return WaitForCondition(ctx, func(context.Context) (any, error) {
		line := LastLine(snapshot())
		if line != "" && prompt.MatchString(line) {
			return line, nil
		}
		return nil, nil
	}, opts)
}

// WaitForProcessStart waits until the pid accessor reports a positive pid.
func WaitForProcessStart(ctx context.Context, pid func() int, opts Options) Result {
	return WaitForCondition(ctx, func(context.Context) (any, error) {
		if p := pid(); p > 0 {
			return p, nil
		}
		return nil, nil
	}, opts)
}

// WaitForProcessExit waits until the running accessor reports false.
func WaitForProcessExit(ctx context.Context, running func() bool, opts Options) Result {
	return WaitForCondition(ctx, func(context.Context) (any, error) {
		return !running(), nil
	}, opts)
}

// Retry runs op until it succeeds or the wait budget is exhausted.
// Unlike WaitForCondition it returns an error on exhaustion, wrapping the
// last failure, because a retried operation has a result the caller needs.
func Retry(ctx context.Context, op func(ctx context.Context) (any, error), opts Options) (any, error) {
	res := WaitForCondition(ctx, func(ctx context.Context) (any, error) {
		v, err := op(ctx)
		if err != nil {
			return nil, err
		}
		if v == nil {
			// A nil, nil result still counts as success for an operation.
			return struct{}{}, nil
		}
		return v, nil
	}, opts)

	if !res.Success {
		if res.LastErr != nil {
			return nil, fmt.Errorf("retry exhausted after %d attempts: %w", res.Attempts, res.LastErr)
		}
		return nil, fmt.Errorf("retry exhausted after %d attempts", res.Attempts)
	}
	if _, ok := res.Value.(struct{}); ok {
		return nil, nil
	}
	return res.Value, nil
}

// LastLine returns the last non-empty line of s, with trailing carriage
// returns stripped. Terminal output is \r\n delimited.
func LastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
