// Package backoff provides the exponential backoff policy shared by the gateway,
// the token provider and the progress client's reconnection loop.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	Jitter     float64 // fraction of the delay added at random, in [0, 1]
	MaxRetries int
}

// Default is the schedule used for remote calls: 1s, 2s, 4s, capped at 30s
var Default = Policy{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2, MaxRetries: 3}

// Delay returns the wait before retry number attempt (0-based).
// Jitter is only ever added on top of the exponential step, so delays never decrease.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for i := 0; i < attempt && (p.Max <= 0 || d < p.Max); i++ {
		d *= 2
	}
	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		d += time.Duration(rand.Float64() * j * float64(d))
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Sleep waits for d or until ctx is done. It returns false if ctx ended first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SleepFunc lets callers substitute the wait in tests
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Retry runs fn until it succeeds, returns a non-retryable error, or MaxRetries is exhausted.
// onRetry, if set, is called with the attempt number and the delay before each wait.
func (p Policy) Retry(ctx context.Context, retryable func(error) bool, fn func(attempt int) error, opts ...Option) error {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(attempt)
		if err == nil || !retryable(err) || attempt >= p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if !o.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

type options struct {
	sleep   SleepFunc
	onRetry func(attempt int, delay time.Duration, err error)
}

// Option customizes Retry
type Option func(*options)

// WithSleep replaces the wait function
func WithSleep(fn SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// OnRetry registers a hook called before each wait
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}
