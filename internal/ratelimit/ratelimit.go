// Package ratelimit paces outbound requests: randomized, attempt-scaled
// delays between attempts and an optional shared requests/second cap.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// ClockSleeper sleeps on the wall clock.
type ClockSleeper struct{}

func (ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
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

// Pacer computes the jittered delay before each attempt. The window
// [min, max] widens with every attempt by a factor of 1 + 0.5*attempt.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	mu       sync.Mutex
	rng      *rand.Rand
}

func NewPacer(minDelay, maxDelay time.Duration) *Pacer {
	return NewPacerWithSource(minDelay, maxDelay, rand.NewSource(time.Now().UnixNano()))
}

func NewPacerWithSource(minDelay, maxDelay time.Duration, src rand.Source) *Pacer {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	return &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.New(src),
	}
}

// Scale is the window multiplier for a zero-based attempt index.
func Scale(attempt int) float64 {
	return 1 + 0.5*float64(attempt)
}

// Bounds returns the delay window for an attempt.
func (p *Pacer) Bounds(attempt int) (time.Duration, time.Duration) {
	s := Scale(attempt)
	return scaleDuration(p.minDelay, s), scaleDuration(p.maxDelay, s)
}

// Delay draws a delay uniformly from the attempt's window.
func (p *Pacer) Delay(attempt int) time.Duration {
	lo, hi := p.Bounds(attempt)
	if hi <= lo {
		return lo
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + time.Duration(p.rng.Int63n(int64(hi-lo)+1))
}

func scaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(math.Round(float64(d) * factor))
}

// NewRequestLimiter builds a token bucket shared by every session that talks
// to the same storefront. A non-positive rate disables the cap.
func NewRequestLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks on the limiter when one is configured.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
