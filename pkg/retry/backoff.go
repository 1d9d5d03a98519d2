package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy produces the delay before a given retry attempt.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the delay geometrically with randomized jitter.
// Jitter keeps parallel workers that hit a rate limit together from retrying
// in lockstep.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0..1.0 fraction of the delay randomized
}

// DefaultExponentialBackoff returns the documented default growth curve.
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    2 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

// NextDelay returns the delay for the given 1-based attempt.
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1))
	if max := float64(b.MaxDelay); delay > max {
		delay = max
	}
	if b.JitterFactor > 0 {
		jitter := delay * b.JitterFactor
		delay = delay - jitter/2 + rand.Float64()*jitter
	}
	return time.Duration(delay)
}

// ConstantBackoff waits the same duration between every attempt.
type ConstantBackoff struct {
	Delay time.Duration
}

func (b *ConstantBackoff) NextDelay(int) time.Duration { return b.Delay }

// Wait sleeps for the given delay or returns early when the context ends.
func Wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
