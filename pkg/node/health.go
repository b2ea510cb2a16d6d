package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/backtesting-org/trading-node/pkg/venue"
	"go.uber.org/zap"
)

// healthMonitor counts consecutive runtime failures for one client. Recovery
// resets the count; exceeding max faults the node. A max of zero disables
// the threshold.
type healthMonitor struct {
	handle   *ClientHandle
	events   <-chan venue.HealthEvent
	max      int
	observer Observer
	metrics  *Metrics
	onFault  func(*FaultError)

	mu       sync.Mutex
	failures int
}

func (m *healthMonitor) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.events:
			if !ok {
				return
			}
			if m.handleEvent(ev) {
				return
			}
		}
	}
}

// handleEvent returns true once the threshold has been exceeded.
func (m *healthMonitor) handleEvent(ev venue.HealthEvent) bool {
	h := m.handle
	if ev.Kind == venue.HealthRecovered {
		m.mu.Lock()
		m.failures = 0
		m.mu.Unlock()
		h.logger.Info("Client recovered")
		return false
	}

	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	m.metrics.ClientFailures.WithLabelValues(string(h.venue), string(h.role)).Inc()
	h.logger.Warn("Client reported runtime failure",
		zap.Stringer("kind", ev.Kind),
		zap.Int("consecutive_failures", failures),
		zap.Error(ev.Err))

	cause := ev.Err
	if cause == nil {
		cause = errors.New(ev.Kind.String())
	}

	if m.max <= 0 || failures <= m.max {
		m.observer.OnFault(&FaultError{Phase: PhaseRunning, Venue: h.venue, Role: h.role, Kind: ErrConnectionFailed, Err: cause})
		return false
	}

	fault := &FaultError{
		Phase: PhaseRunning,
		Venue: h.venue,
		Role:  h.role,
		Kind:  ErrRuntimeFault,
		Err:   fmt.Errorf("%d consecutive failures, last: %w", failures, cause),
	}
	m.onFault(fault)
	return true
}
