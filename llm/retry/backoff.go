// Package retry computes exponential backoff delays with jitter and waits
// for them in a cancellable way.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Default backoff parameters.
const (
	DefaultInitial = 100 * time.Millisecond
	DefaultMax     = 10 * time.Second
	// DefaultJitter spreads each delay uniformly over ±50% of the base delay
	// so concurrent callers do not retry in lockstep.
	DefaultJitter = 0.5
)

// Backoff computes delay = initial * 2^attempt, capped at Max, then jittered.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the fractional spread around the base delay, in [0, 1].
	Jitter float64

	rnd func() float64
}

// NewBackoff creates a Backoff with the default jitter. Non-positive values
// fall back to the package defaults.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitial
	}
	if max <= 0 {
		max = DefaultMax
	}
	if max < initial {
		max = initial
	}
	return &Backoff{Initial: initial, Max: max, Jitter: DefaultJitter, rnd: rand.Float64}
}

// WithRand replaces the random source, which must return values in [0, 1).
func (b *Backoff) WithRand(rnd func() float64) *Backoff {
	c := *b
	c.rnd = rnd
	return &c
}

// Base returns the un-jittered delay for the zero-based attempt n.
func (b *Backoff) Base(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(b.Initial) * math.Pow(2, float64(n))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Delay returns the jittered delay for the zero-based attempt n.
// The result lies in [Base(n)*(1-Jitter), Base(n)*(1+Jitter)].
func (b *Backoff) Delay(n int) time.Duration {
	base := float64(b.Base(n))
	j := b.Jitter
	if j < 0 {
		j = 0
	}
	if j > 1 {
		j = 1
	}
	rnd := b.rnd
	if rnd == nil {
		rnd = rand.Float64
	}
	factor := 1 - j + 2*j*rnd()
	return time.Duration(base * factor)
}

// Wait blocks for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
