package oracle

import (
	"context"
	"math/rand"
	"time"

	"github.com/synapse-hq/synapse-sourcer/internal/utils"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 15 * time.Second
)

// Backoff is the retry policy consumed by oracle clients: exponential delay
// with a cap and jitter. Sleep and Jitter are injectable so retry behavior
// is testable without real time passing.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter perturbs a computed delay. Defaults to uniform in [d/2, d).
	Jitter func(d time.Duration) time.Duration
	// Sleep waits out a delay, honoring context cancellation. Defaults to
	// utils.WaitFor.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultBackoff returns the standard policy: 3 attempts, 500ms base,
// 15s cap.
func DefaultBackoff() *Backoff {
	return &Backoff{}
}

// Delay computes the pre-sleep duration after a failed attempt (1-based).
func (b *Backoff) Delay(attempt int) time.Duration {
	base := b.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			d = maxDelay
			break
		}
	}
	if d > maxDelay {
		d = maxDelay
	}

	jitter := b.Jitter
	if jitter == nil {
		jitter = halfJitter
	}

	return jitter(d)
}

// Wait sleeps out the backoff delay for the given attempt.
func (b *Backoff) Wait(ctx context.Context, attempt int) error {
	sleep := b.Sleep
	if sleep == nil {
		sleep = utils.WaitFor
	}
	return sleep(ctx, b.Delay(attempt))
}

func (b *Backoff) maxAttempts() int {
	if b.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return b.MaxAttempts
}

func halfJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
