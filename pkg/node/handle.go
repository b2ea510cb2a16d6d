package node

import (
	"fmt"
	"sync"

	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"go.uber.org/zap"
)

type client interface {
	venue.Connectable
	venue.Disconnectable
	venue.Disposable
}

// ClientHandle tracks one client instance for one venue and role. Only the
// node mutates it.
type ClientHandle struct {
	venue  model.Venue
	role   venue.Role
	client client
	logger *zap.Logger

	mu    sync.Mutex
	state ClientState
	err   error

	disposeOnce sync.Once
	onChange    func(h *ClientHandle, from, to ClientState)
}

func newClientHandle(v model.Venue, role venue.Role, c client, logger *zap.Logger, onChange func(*ClientHandle, ClientState, ClientState)) *ClientHandle {
	return &ClientHandle{
		venue:    v,
		role:     role,
		client:   c,
		logger:   logger.With(zap.String("venue", v.String()), zap.String("role", role.String())),
		onChange: onChange,
	}
}

func (h *ClientHandle) ID() string {
	return clientID(h.venue, h.role)
}

func (h *ClientHandle) Venue() model.Venue {
	return h.venue
}

func (h *ClientHandle) Role() venue.Role {
	return h.role
}

func (h *ClientHandle) State() ClientState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure that moved the handle to Failed, if any.
func (h *ClientHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *ClientHandle) reconcilable() (venue.Reconcilable, bool) {
	r, ok := h.client.(venue.Reconcilable)
	return r, ok
}

func (h *ClientHandle) healthReporter() (venue.HealthReporter, bool) {
	r, ok := h.client.(venue.HealthReporter)
	return r, ok
}

func (h *ClientHandle) transition(to ClientState) error {
	h.mu.Lock()
	from := h.state
	if !from.canTransitionTo(to) {
		h.mu.Unlock()
		return fmt.Errorf("%w: client %s %s -> %s", ErrInvalidTransition, h.ID(), from, to)
	}
	h.state = to
	h.mu.Unlock()

	h.logger.Debug("Client state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	if h.onChange != nil {
		h.onChange(h, from, to)
	}
	return nil
}

// fail moves the handle to Failed and records err. It is a no-op when the
// handle is already Failed or Disposed.
func (h *ClientHandle) fail(err error) {
	h.mu.Lock()
	from := h.state
	if !from.canTransitionTo(ClientFailed) {
		h.mu.Unlock()
		return
	}
	h.state = ClientFailed
	h.err = err
	h.mu.Unlock()

	h.logger.Warn("Client failed", zap.Stringer("from", from), zap.Error(err))
	if h.onChange != nil {
		h.onChange(h, from, ClientFailed)
	}
}

// dispose releases the client exactly once and marks the handle Disposed.
func (h *ClientHandle) dispose() {
	h.disposeOnce.Do(func() {
		h.client.Dispose()
		if err := h.transition(ClientDisposed); err != nil {
			h.logger.Error("Failed to mark client disposed", zap.Error(err))
		}
	})
}

// HandleStatus is a read-only view of a handle.
type HandleStatus struct {
	Venue model.Venue `json:"venue"`
	Role  venue.Role  `json:"role"`
	State string      `json:"state"`
	Error string      `json:"error,omitempty"`
}

func (h *ClientHandle) Status() HandleStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HandleStatus{Venue: h.venue, Role: h.role, State: h.state.String()}
	if h.err != nil {
		s.Error = h.err.Error()
	}
	return s
}
