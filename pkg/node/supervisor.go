package node

import (
	"context"
	"time"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"go.uber.org/zap"
)

// ConnectionSupervisor drives one client's Connect under the connection
// timeout. It never retries; reconnect policy belongs to the adapter.
type ConnectionSupervisor struct {
	clock   clock.Clock
	timeout time.Duration
	logger  *zap.Logger
}

func NewConnectionSupervisor(clk clock.Clock, timeout time.Duration, logger *zap.Logger) *ConnectionSupervisor {
	return &ConnectionSupervisor{
		clock:   clk,
		timeout: timeout,
		logger:  logger.Named("supervisor"),
	}
}

// Supervise connects h and leaves it Connected, or Failed with a
// *FaultError that is also returned.
func (s *ConnectionSupervisor) Supervise(ctx context.Context, h *ClientHandle) error {
	if err := h.transition(ClientConnecting); err != nil {
		return err
	}

	start := s.clock.Now()
	err := bounded(ctx, s.clock, s.timeout, h.client.Connect)

	var kind error
	switch classify(ctx, err) {
	case outcomeOK:
		if err := h.transition(ClientConnected); err != nil {
			return err
		}
		h.logger.Info("Client connected", zap.Duration("elapsed", s.clock.Since(start)))
		return nil
	case outcomeTimeout:
		kind = ErrConnectionTimeout
	case outcomeAborted:
		kind = ErrStartAborted
	default:
		kind = ErrConnectionFailed
	}

	fault := &FaultError{
		Phase: PhaseConnection,
		Venue: h.venue,
		Role:  h.role,
		Kind:  kind,
		Err:   err,
	}
	h.fail(fault)
	return fault
}
