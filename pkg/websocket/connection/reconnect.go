package connection

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/backtesting-org/trading-node/pkg/clock"
)

// ErrBreakerOpen is returned while the dial circuit breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open")

// Backoff computes reconnect delays.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

type exponentialBackoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     bool
}

// NewExponentialBackoff doubles the delay per attempt up to max, with ±10%
// jitter.
func NewExponentialBackoff(initial, max time.Duration) Backoff {
	return &exponentialBackoff{
		initial:    initial,
		max:        max,
		multiplier: 2.0,
		jitter:     true,
	}
}

func (b *exponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.initial
	}

	delay := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if b.max > 0 && delay > float64(b.max) {
		delay = float64(b.max)
	}

	if b.jitter {
		delay += delay * 0.1 * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(b.initial)
		}
	}

	return time.Duration(delay)
}

// circuitBreaker stops dialing a venue that keeps refusing connections.
type circuitBreaker struct {
	clock        clock.Clock
	maxFailures  int
	resetTimeout time.Duration

	mutex       sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
}

func newCircuitBreaker(clk clock.Clock, maxFailures int, resetTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		clock:        clk,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Execute runs fn unless the breaker is open. A success closes it.
func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mutex.Lock()
	if cb.open {
		if cb.clock.Since(cb.lastFailure) < cb.resetTimeout {
			cb.mutex.Unlock()
			return ErrBreakerOpen
		}
		// half-open: allow one attempt through
		cb.open = false
		cb.failures = cb.maxFailures - 1
	}
	cb.mutex.Unlock()

	err := fn()

	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.clock.Now()
		if cb.maxFailures > 0 && cb.failures >= cb.maxFailures {
			cb.open = true
		}
		return err
	}
	cb.failures = 0
	return nil
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.open
}
