package waiter

import "time"

// Strategy names a built-in backoff curve.
type Strategy string

// Built-in backoff strategies.
const (
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
	StrategyQuadratic   Strategy = "quadratic"
)

// Interval returns the IntervalFunc implementing the strategy.
// Unknown strategies fall back to exponential.
func (s Strategy) Interval() IntervalFunc {
	switch s {
	case StrategyLinear:
		return linearInterval
	case StrategyFibonacci:
		return fibonacciInterval
	case StrategyQuadratic:
		return quadraticInterval
	default:
		return exponentialInterval
	}
}

// StrategyByName resolves a strategy from its configuration name.
func StrategyByName(name string) (Strategy, bool) {
	switch Strategy(name) {
	case StrategyLinear, StrategyExponential, StrategyFibonacci, StrategyQuadratic:
		return Strategy(name), true
	}
	return "", false
}

func linearInterval(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt)
}

func exponentialInterval(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > DefaultMaxDelay {
			return DefaultMaxDelay
		}
	}
	return d
}

func fibonacciInterval(attempt int, base time.Duration) time.Duration {
	a, b := 1, 1
	for i := 2; i < attempt; i++ {
		a, b = b, a+b
		if time.Duration(b)*base > DefaultMaxDelay {
			return DefaultMaxDelay
		}
	}
	if attempt <= 1 {
		return base
	}
	return base * time.Duration(b)
}

func quadraticInterval(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt*attempt)
}
