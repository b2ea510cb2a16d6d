// Package clock is the single time source for every deadline in the node.
//
// Production code uses LiveClock. Tests use ManualClock, which only moves when
// Advance is called, so phase timeouts can be exercised without sleeping.
package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDeadlineExceeded is the cancellation cause of contexts created by
// WithTimeout and WithDeadline when the clock reaches the deadline.
var ErrDeadlineExceeded = errors.New("clock deadline exceeded")

// Clock provides the current time and timers.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
	Sleep(d time.Duration)
}

type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

// WithTimeout returns a context that is cancelled with ErrDeadlineExceeded once
// d has elapsed on clk, or earlier when parent is done.
func WithTimeout(parent context.Context, clk Clock, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	timer := clk.NewTimer(d)
	stop := make(chan struct{})

	go func() {
		defer timer.Stop()
		select {
		case <-timer.C():
			cancel(ErrDeadlineExceeded)
		case <-ctx.Done():
		case <-stop:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(stop) })
		cancel(context.Canceled)
	}
}

// WithDeadline is WithTimeout measured against an absolute clock time.
func WithDeadline(parent context.Context, clk Clock, deadline time.Time) (context.Context, context.CancelFunc) {
	return WithTimeout(parent, clk, deadline.Sub(clk.Now()))
}

// DeadlineExceeded reports whether ctx was cancelled because its clock deadline passed.
func DeadlineExceeded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrDeadlineExceeded)
}
