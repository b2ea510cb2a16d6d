package node

import (
	"context"
	"errors"
	"time"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/sourcegraph/conc/panics"
)

// bounded runs fn with a context that expires after d on clk and returns as
// soon as fn returns or that context is done. A call that outlives its
// deadline is abandoned with its context cancelled; a panic in fn is
// returned as an error.
//
// The returned error wraps clock.ErrDeadlineExceeded on timeout and carries
// the parent's cancellation cause when ctx ends first.
func bounded(ctx context.Context, clk clock.Clock, d time.Duration, fn func(context.Context) error) error {
	bctx, cancel := clock.WithTimeout(ctx, clk, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = fn(bctx) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && bctx.Err() != nil {
			return context.Cause(bctx)
		}
		return err
	case <-bctx.Done():
		return context.Cause(bctx)
	}
}

// outcome classifies the result of bounded relative to its parent context.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeTimeout
	outcomeAborted
	outcomeFailed
)

func classify(parent context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, clock.ErrDeadlineExceeded):
		return outcomeTimeout
	case parent.Err() != nil:
		return outcomeAborted
	default:
		return outcomeFailed
	}
}
