package node

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Dispose shuts the node down from any state. Only the first call does any
// work; later calls return immediately. Use Done to wait for completion from
// elsewhere.
//
// If startup is in flight it is cancelled and awaited first. A Faulted node
// stays Faulted; any other node ends Disposed.
func (n *TradingNode) Dispose() {
	if !n.disposing.CompareAndSwap(false, true) {
		return
	}
	defer close(n.done)

	n.mu.Lock()
	cancelStart, startDone := n.startCancel, n.startDone
	n.mu.Unlock()
	if cancelStart != nil {
		cancelStart(ErrStartAborted)
		<-startDone
	}

	n.mu.Lock()
	faulted := n.state == StateFaulted
	var from State
	var err error
	if !faulted {
		from, err = n.setStateLocked(StateStopping)
	}
	n.mu.Unlock()
	stopping := !faulted && err == nil
	if err != nil {
		n.logger.Error("Node cannot enter shutdown", zap.Error(err))
	}
	if stopping {
		n.notifyState(from, StateStopping)
	}

	n.shutdown()

	if stopping {
		n.mu.Lock()
		_, err = n.setStateLocked(StateDisposed)
		n.mu.Unlock()
		if err != nil {
			n.logger.Error("Failed to mark node disposed", zap.Error(err))
			return
		}
		n.notifyState(StateStopping, StateDisposed)
	}
}

// shutdown is the shutdown sequence proper: background tasks, strategies,
// data clients, execution clients, then remaining resources.
func (n *TradingNode) shutdown() {
	began := n.clock.Now()
	defer func() {
		n.metrics.observePhase(PhaseDisconnection, n.clock.Since(began))
	}()

	n.mu.Lock()
	runCancel, residuals, running := n.runCancel, n.residuals, n.running
	strategies := append([]Strategy(nil), n.strategies...)
	data := append([]*ClientHandle(nil), n.dataHandles...)
	exec := append([]*ClientHandle(nil), n.execHandles...)
	n.mu.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if residuals != nil {
		residuals.Stop()
	}
	n.monitors.Wait()

	if running {
		for _, s := range strategies {
			st, ok := s.(Stoppable)
			if !ok {
				continue
			}
			if err := bounded(context.Background(), n.clock, n.cfg.Timeouts.Disconnection, st.OnStop); err != nil {
				n.logger.Warn("Strategy failed to stop", zap.String("strategy", s.ID()), zap.Error(err))
			}
		}
	}

	// Data first so no new signals reach execution while it closes.
	n.disconnectAll(data)
	n.disconnectAll(exec)

	if err := bounded(context.Background(), n.clock, n.cfg.Timeouts.Disconnection, n.cache.Flush); err != nil {
		n.logger.Error("Failed to flush cache", zap.Error(err))
	}
	if err := n.cache.Close(); err != nil {
		n.logger.Error("Failed to close cache database", zap.Error(err))
	}

	n.logger.Info("Node shut down", zap.Duration("elapsed", n.clock.Since(began)))
}

func (n *TradingNode) disconnectAll(handles []*ClientHandle) {
	if len(handles) == 0 {
		return
	}
	p := pool.New()
	for _, h := range handles {
		p.Go(func() {
			n.disconnect(h)
		})
	}
	p.Wait()
}

// disconnect closes h gracefully when it holds a session and always ends
// with the client disposed.
func (n *TradingNode) disconnect(h *ClientHandle) {
	defer h.dispose()

	switch h.State() {
	case ClientConnected, ClientReconciling, ClientRunning:
	default:
		return
	}
	if err := h.transition(ClientDisconnecting); err != nil {
		h.logger.Warn("Skipping graceful disconnect", zap.Error(err))
		return
	}

	ctx := context.Background()
	err := bounded(ctx, n.clock, n.cfg.Timeouts.Disconnection, h.client.Disconnect)
	switch classify(ctx, err) {
	case outcomeOK:
		h.logger.Info("Client disconnected")
	case outcomeTimeout:
		fault := &FaultError{
			Phase: PhaseDisconnection,
			Venue: h.venue,
			Role:  h.role,
			Kind:  ErrDisconnectionTimeout,
			Err:   err,
		}
		n.metrics.DisconnectFault.WithLabelValues(string(h.venue), string(h.role)).Inc()
		n.observer.OnFault(fault)
		h.logger.Warn("Disconnection timed out, forcing disposal", zap.Error(fault))
	default:
		h.logger.Warn("Client disconnect failed, forcing disposal", zap.Error(err))
	}
}
