package node

// State is the lifecycle state of the node.
type State int

const (
	StateCreated State = iota
	StateBuilding
	StateStarting
	StateRunning
	StateStopping
	StateDisposed
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateBuilding:
		return "BUILDING"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateDisposed:
		return "DISPOSED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

var nodeTransitions = map[State][]State{
	StateCreated:  {StateBuilding, StateStopping},
	StateBuilding: {StateStarting, StateStopping},
	StateStarting: {StateRunning, StateFaulted, StateStopping},
	StateRunning:  {StateStopping, StateFaulted},
	StateStopping: {StateDisposed},
}

// canTransitionTo reports whether the node may move from s to to. Every
// node state change goes through setStateLocked, which enforces it.
func (s State) canTransitionTo(to State) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ClientState is the lifecycle state of one client handle.
type ClientState int

const (
	ClientUninitialized ClientState = iota
	ClientConnecting
	ClientConnected
	ClientReconciling
	ClientRunning
	ClientDisconnecting
	ClientDisposed
	ClientFailed
)

func (s ClientState) String() string {
	switch s {
	case ClientUninitialized:
		return "UNINITIALIZED"
	case ClientConnecting:
		return "CONNECTING"
	case ClientConnected:
		return "CONNECTED"
	case ClientReconciling:
		return "RECONCILING"
	case ClientRunning:
		return "RUNNING"
	case ClientDisconnecting:
		return "DISCONNECTING"
	case ClientDisposed:
		return "DISPOSED"
	case ClientFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s ClientState) Terminal() bool {
	return s == ClientDisposed
}

// canTransitionTo enforces forward-only progress. Failed is reachable from
// every non-terminal state and only leads to Disposed.
func (s ClientState) canTransitionTo(to ClientState) bool {
	switch {
	case s == ClientDisposed:
		return false
	case s == ClientFailed:
		return to == ClientDisposed
	case to == ClientFailed:
		return true
	default:
		return to > s
	}
}
