package resilience

import (
	"testing"
	"time"
)

func TestWithinBudgetCapsAttempts(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2,
	}

	// Sleeps for 5 attempts: 100+200+400+400 = 1.1s; for 3: 300ms.
	got := cfg.WithinBudget(800 * time.Millisecond)
	if got.RetryMaxAttempts != 3 {
		t.Fatalf("expected 3 attempts within 800ms, got %d", got.RetryMaxAttempts)
	}
	if got.totalBackoff() > 400*time.Millisecond {
		t.Fatalf("backoff %s exceeds half the budget", got.totalBackoff())
	}
}

func TestWithinBudgetKeepsOneAttempt(t *testing.T) {
	got := DefaultConfig().WithinBudget(time.Millisecond)
	if got.RetryMaxAttempts != 1 {
		t.Fatalf("expected a single attempt, got %d", got.RetryMaxAttempts)
	}
}

func TestWithinBudgetIgnoresZeroBudget(t *testing.T) {
	got := DefaultConfig().WithinBudget(0)
	if got.RetryMaxAttempts != DefaultConfig().RetryMaxAttempts {
		t.Fatalf("zero budget must not change attempts, got %d", got.RetryMaxAttempts)
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	got := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond}.normalize()
	if got.RetryMaxBackoff != time.Second {
		t.Fatalf("max backoff must not be below initial, got %s", got.RetryMaxBackoff)
	}
	if got.RetryMaxAttempts != 3 || got.BreakerFailureRatio != 0.5 || got.BreakerHalfOpenMaxCalls != 2 {
		t.Fatalf("unexpected defaults %+v", got)
	}
	if got.BreakerEnabled {
		t.Fatalf("breaker must stay off unless enabled")
	}
}
