package executor

import (
	"context"
	"math"
	"time"
)

// Default backoff settings.
const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffFactor = 2.0
	DefaultBackoffMax    = time.Minute
)

// Backoff computes the wait before a retry.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff returns the default backoff.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Factor: DefaultBackoffFactor, Max: DefaultBackoffMax}
}

// Delay returns min(Max, Base*Factor^retry + jitter). retry counts from 0.
func (b Backoff) Delay(retry int, jitter time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := float64(b.Base)*math.Pow(b.Factor, float64(retry)) + float64(jitter)
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
