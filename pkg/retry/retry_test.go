package retry

import (
	"context"
	"testing"
	"time"

	errs "marketpulse/pkg/errors"
)

func TestExponentialBackoffGrowth(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.NextDelay(i + 1); got != w {
			t.Errorf("NextDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
	if got := b.NextDelay(20); got != 10*time.Second {
		t.Errorf("NextDelay(20) = %v, want cap %v", got, 10*time.Second)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	b := &ExponentialBackoff{
		BaseDelay:    10 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	// 30% jitter centered on the nominal delay: [8.5s, 11.5s) for attempt 1.
	lo, hi := 8500*time.Millisecond, 11500*time.Millisecond
	for i := 0; i < 100; i++ {
		got := b.NextDelay(1)
		if got < lo || got > hi {
			t.Fatalf("NextDelay(1) = %v, want within [%v, %v]", got, lo, hi)
		}
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errs.New(errs.ErrorTypeNetwork, "connection reset")
		}
		return nil
	}

	err := Do(op, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	terminal := errs.New(errs.ErrorTypePasswordResetDetected, "account flagged")
	op := func() error {
		attempts++
		return terminal
	}

	err := Do(op, &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
	})
	if err != terminal {
		t.Fatalf("Do() error = %v, want the terminal error unchanged", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, a terminal failure must not be retried", attempts)
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errs.New(errs.ErrorTypeRateLimited, "slow down")
	}

	err := Do(op, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     DefaultRetryIf,
	})
	if err == nil {
		t.Fatal("Do() should fail once the attempt budget is spent")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := func() error {
		cancel()
		return errs.New(errs.ErrorTypeNetwork, "connection reset")
	}

	start := time.Now()
	err := Do(op, &Config{
		MaxAttempts: 10,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Second},
		RetryIf:     DefaultRetryIf,
		Context:     ctx,
	})
	if err == nil {
		t.Fatal("Do() should surface the cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, the backoff sleep was not interrupted", elapsed)
	}
}

func TestDefaultRetryIf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"rate limited", errs.New(errs.ErrorTypeRateLimited, ""), true},
		{"network", errs.New(errs.ErrorTypeNetwork, ""), true},
		{"server error", errs.New(errs.ErrorTypeServerError, ""), true},
		{"login failed", errs.New(errs.ErrorTypeLoginFailed, ""), false},
		{"verification required", errs.New(errs.ErrorTypeVerificationRequired, ""), false},
		{"duplicate", errs.New(errs.ErrorTypeDuplicate, ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryIf(tt.err); got != tt.want {
				t.Errorf("DefaultRetryIf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWaitReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := Wait(ctx, time.Minute); err == nil {
		t.Fatal("Wait() should return the context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait returned after %v, want prompt cancellation", elapsed)
	}
}
