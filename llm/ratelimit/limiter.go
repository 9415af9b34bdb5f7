// Package ratelimit bounds how hard the pipeline pushes a provider: a
// weighted semaphore caps in-flight calls and a token bucket caps the
// request rate. Both waits honor context cancellation.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config controls a Limiter. Zero values disable the respective limit.
type Config struct {
	MaxConcurrent int     `json:"max_concurrent" yaml:"max_concurrent"`
	RPS           float64 `json:"rps" yaml:"rps"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// Limiter is safe for concurrent use and meant to be shared by every
// orchestrator that talks to the same provider.
type Limiter struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{}
	if cfg.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return l
}

// Acquire blocks until a concurrency slot and a rate token are available.
// The returned release func must be called exactly once when the call ends.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire concurrency slot: %w", err)
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			if l.sem != nil {
				l.sem.Release(1)
			}
			return nil, fmt.Errorf("wait for rate token: %w", err)
		}
	}
	if l.sem == nil {
		return func() {}, nil
	}
	return func() { l.sem.Release(1) }, nil
}
