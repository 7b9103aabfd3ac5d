package waiter

import (
	"testing"
	"time"
)

func TestStrategyIntervals(t *testing.T) {
	base := 10 * time.Millisecond

	tests := []struct {
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{StrategyLinear, 1, 10 * time.Millisecond},
		{StrategyLinear, 4, 40 * time.Millisecond},
		{StrategyExponential, 1, 10 * time.Millisecond},
		{StrategyExponential, 4, 80 * time.Millisecond},
		{StrategyFibonacci, 1, 10 * time.Millisecond},
		{StrategyFibonacci, 2, 10 * time.Millisecond},
		{StrategyFibonacci, 3, 20 * time.Millisecond},
		{StrategyFibonacci, 5, 50 * time.Millisecond},
		{StrategyQuadratic, 1, 10 * time.Millisecond},
		{StrategyQuadratic, 3, 90 * time.Millisecond},
	}

	for _, tt := range tests {
		fn := tt.strategy.Interval()
		if got := fn(tt.attempt, base); got != tt.want {
			t.Errorf("%s(attempt=%d) = %v, want %v", tt.strategy, tt.attempt, got, tt.want)
		}
	}
}

func TestStrategyByName(t *testing.T) {
	for _, name := range []string{"linear", "exponential", "fibonacci", "quadratic"} {
		s, ok := StrategyByName(name)
		if !ok || string(s) != name {
			t.Errorf("StrategyByName(%q) = %q, %v", name, s, ok)
		}
	}

	if _, ok := StrategyByName("bogus"); ok {
		t.Error("unknown strategy name must not resolve")
	}
}

func TestExponentialCapped(t *testing.T) {
	fn := StrategyExponential.Interval()
	if got := fn(30, time.Second); got != DefaultMaxDelay {
		t.Errorf("expected exponential growth capped at %v, got %v", DefaultMaxDelay, got)
	}
}
