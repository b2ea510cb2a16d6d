// Package node orchestrates a live trading node: it builds venue clients,
// connects and reconciles them under per-phase deadlines, supervises them
// while running and tears them down exactly once.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// TradingNode is the top-level orchestrator. Construct one per process and
// pass it explicitly to whatever needs it.
type TradingNode struct {
	cfg        Config
	instanceID string
	logger     *zap.Logger
	clock      clock.Clock
	cache      *cache.Cache
	portfolio  PortfolioInitializer
	metrics    *Metrics
	observer   Observer
	registry   *ClientRegistry
	supervisor *ConnectionSupervisor
	reconciler *ReconciliationEngine

	mu          sync.Mutex
	state       State
	fault       error
	building    bool
	running     bool
	strategies  []Strategy
	dataHandles []*ClientHandle
	execHandles []*ClientHandle

	startCancel context.CancelCauseFunc
	startDone   chan struct{}

	runCancel context.CancelFunc
	monitors  sync.WaitGroup
	residuals *ResidualOrderChecker

	disposing atomic.Bool
	done      chan struct{}
}

// NewTradingNode validates cfg and returns a node in Created. portfolio,
// metrics and observer may be nil.
func NewTradingNode(
	cfg Config,
	logger *zap.Logger,
	clk clock.Clock,
	c *cache.Cache,
	portfolio PortfolioInitializer,
	metrics *Metrics,
	observer Observer,
) (*TradingNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Op: "new", Err: err}
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if observer == nil {
		observer = NopObserver{}
	}

	cfg = cfg.clone()
	instanceID := uuid.NewString()
	logger = logger.Named("node").With(
		zap.String("trader_id", cfg.TraderID),
		zap.String("instance_id", instanceID))

	n := &TradingNode{
		cfg:        cfg,
		instanceID: instanceID,
		logger:     logger,
		clock:      clk,
		cache:      c,
		portfolio:  portfolio,
		metrics:    metrics,
		observer:   observer,
		registry:   NewClientRegistry(),
		supervisor: NewConnectionSupervisor(clk, cfg.Timeouts.Connection, logger),
		reconciler: NewReconciliationEngine(c, clk, cfg.Timeouts.Reconciliation, observer, metrics, logger),
		done:       make(chan struct{}),
	}
	metrics.setState(StateCreated)
	return n, nil
}

func (n *TradingNode) TraderID() string {
	return n.cfg.TraderID
}

func (n *TradingNode) InstanceID() string {
	return n.instanceID
}

func (n *TradingNode) Timeouts() TimeoutBudget {
	return n.cfg.Timeouts
}

func (n *TradingNode) Cache() *cache.Cache {
	return n.cache
}

func (n *TradingNode) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the fault that moved the node to Faulted, if any.
func (n *TradingNode) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fault
}

// Done is closed once Dispose has completed.
func (n *TradingNode) Done() <-chan struct{} {
	return n.done
}

// Handles returns the status of every client handle, data clients first.
func (n *TradingNode) Handles() []HandleStatus {
	n.mu.Lock()
	handles := n.allHandlesLocked()
	n.mu.Unlock()

	out := make([]HandleStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	return out
}

func (n *TradingNode) allHandlesLocked() []*ClientHandle {
	out := make([]*ClientHandle, 0, len(n.dataHandles)+len(n.execHandles))
	out = append(out, n.dataHandles...)
	return append(out, n.execHandles...)
}

func (n *TradingNode) configurable(op string) error {
	switch n.state {
	case StateCreated, StateBuilding:
		return nil
	default:
		return &ConfigError{Op: op, Err: fmt.Errorf("%w: node is %s", ErrInvalidTransition, n.state)}
	}
}

func (n *TradingNode) AddStrategy(s Strategy) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.configurable("add_strategy"); err != nil {
		return err
	}
	for _, existing := range n.strategies {
		if existing.ID() == s.ID() {
			return &ConfigError{Op: "add_strategy", Err: fmt.Errorf("duplicate strategy id %s", s.ID())}
		}
	}
	n.strategies = append(n.strategies, s)
	return nil
}

// AddDataClientFactory registers f for v. Registrations made after Build do
// not affect the built handles.
func (n *TradingNode) AddDataClientFactory(v model.Venue, f venue.DataClientFactory) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.configurable("add_data_client_factory"); err != nil {
		return err
	}
	n.registry.RegisterData(v, f)
	return nil
}

// AddExecClientFactory registers f for v. Registrations made after Build do
// not affect the built handles.
func (n *TradingNode) AddExecClientFactory(v model.Venue, f venue.ExecClientFactory) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.configurable("add_exec_client_factory"); err != nil {
		return err
	}
	n.registry.RegisterExec(v, f)
	return nil
}

// Build instantiates one handle per configured venue and role and preloads
// the cache. It succeeds at most once; on failure the node stays Created and
// every client built so far is disposed.
func (n *TradingNode) Build(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateCreated || n.building {
		state := n.state
		n.mu.Unlock()
		return &ConfigError{Op: "build", Err: fmt.Errorf("%w: node is %s", ErrInvalidTransition, state)}
	}
	n.building = true
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.building = false
		n.mu.Unlock()
	}()

	reg := n.registry.snapshot()
	var data, exec []*ClientHandle
	release := func() {
		for _, h := range append(data, exec...) {
			h.dispose()
		}
	}

	for _, v := range sortedVenues(n.cfg.DataClients) {
		f, ok := reg.data[v]
		if !ok {
			release()
			return &ConfigError{Op: "build", Venue: v, Err: errors.New("no data client factory registered")}
		}
		c, err := f.NewDataClient(n.factoryContext(v, venue.RoleData), v, n.cfg.DataClients[v].Clone())
		if err == nil && c == nil {
			err = errors.New("factory returned no client")
		}
		if err != nil {
			release()
			return &ConfigError{Op: "build", Venue: v, Err: fmt.Errorf("data client: %w", err)}
		}
		data = append(data, n.newHandle(v, venue.RoleData, c))
	}

	for _, v := range sortedVenues(n.cfg.ExecClients) {
		f, ok := reg.exec[v]
		if !ok {
			release()
			return &ConfigError{Op: "build", Venue: v, Err: errors.New("no execution client factory registered")}
		}
		c, err := f.NewExecClient(n.factoryContext(v, venue.RoleExecution), v, n.cfg.ExecClients[v].Clone())
		if err == nil && c == nil {
			err = errors.New("factory returned no client")
		}
		if err != nil {
			release()
			return &ConfigError{Op: "build", Venue: v, Err: fmt.Errorf("execution client: %w", err)}
		}
		exec = append(exec, n.newHandle(v, venue.RoleExecution, c))
	}

	if err := n.cache.Load(ctx); err != nil {
		release()
		return fmt.Errorf("build: %w", err)
	}

	n.mu.Lock()
	if _, err := n.setStateLocked(StateBuilding); err != nil {
		n.mu.Unlock()
		release()
		return &ConfigError{Op: "build", Err: err}
	}
	n.dataHandles, n.execHandles = data, exec
	n.mu.Unlock()
	n.notifyState(StateCreated, StateBuilding)

	n.logger.Info("Node built",
		zap.Int("data_clients", len(data)),
		zap.Int("exec_clients", len(exec)),
		zap.Int("strategies", len(n.strategies)))
	return nil
}

func (n *TradingNode) factoryContext(v model.Venue, role venue.Role) venue.FactoryContext {
	return venue.FactoryContext{
		TraderID: n.cfg.TraderID,
		Logger:   n.logger.Named("client").With(zap.String("venue", v.String()), zap.String("role", role.String())),
		Clock:    n.clock,
	}
}

func (n *TradingNode) newHandle(v model.Venue, role venue.Role, c client) *ClientHandle {
	n.metrics.setClientState(v, role, ClientUninitialized)
	return newClientHandle(v, role, c, n.logger, n.onClientState)
}

func (n *TradingNode) onClientState(h *ClientHandle, from, to ClientState) {
	n.metrics.setClientState(h.venue, h.role, to)
	n.observer.OnClientState(h.venue, h.role, from, to)
}

// setStateLocked moves the node to to if the transition is legal and returns
// the state it left. n.mu must be held.
func (n *TradingNode) setStateLocked(to State) (State, error) {
	from := n.state
	if !from.canTransitionTo(to) {
		return from, fmt.Errorf("%w: node is %s, cannot move to %s", ErrInvalidTransition, from, to)
	}
	n.state = to
	return from, nil
}

func (n *TradingNode) notifyState(from, to State) {
	n.metrics.setState(to)
	n.observer.OnNodeState(from, to)
	n.logger.Info("Node state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// Start runs the startup protocol and blocks until the node is Running or
// startup has failed. On failure the node is Faulted and the first fatal
// cause is returned, unless Dispose interrupted startup.
func (n *TradingNode) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.disposing.Load() {
		state := n.state
		n.mu.Unlock()
		return &ConfigError{Op: "start", Err: fmt.Errorf("%w: node is %s and being disposed", ErrInvalidTransition, state)}
	}
	if _, err := n.setStateLocked(StateStarting); err != nil {
		n.mu.Unlock()
		return &ConfigError{Op: "start", Err: err}
	}
	startCtx, cancel := context.WithCancelCause(ctx)
	startDone := make(chan struct{})
	n.startCancel, n.startDone = cancel, startDone
	n.mu.Unlock()
	n.notifyState(StateBuilding, StateStarting)

	defer close(startDone)
	defer cancel(nil)

	began := n.clock.Now()
	err := n.startup(startCtx)

	n.mu.Lock()
	if err == nil && n.disposing.Load() {
		err = fmt.Errorf("%w: node is being disposed", ErrStartAborted)
	}
	if err != nil {
		aborted := n.disposing.Load()
		if !aborted {
			if _, terr := n.setStateLocked(StateFaulted); terr != nil {
				n.logger.Error("Failed to mark node faulted", zap.Error(terr))
			}
			n.fault = err
		}
		n.mu.Unlock()

		if aborted {
			n.logger.Warn("Startup aborted by dispose", zap.Error(err))
			return err
		}
		n.notifyState(StateStarting, StateFaulted)
		var fault *FaultError
		if errors.As(err, &fault) {
			n.observer.OnFault(fault)
		}
		n.logger.Error("Startup failed", zap.Error(err))
		return err
	}

	if _, err := n.setStateLocked(StateRunning); err != nil {
		n.mu.Unlock()
		return err
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	n.runCancel = runCancel
	n.running = true
	handles := n.allHandlesLocked()
	exec := append([]*ClientHandle(nil), n.execHandles...)
	strategies := append([]Strategy(nil), n.strategies...)
	n.mu.Unlock()

	for _, h := range handles {
		if err := h.transition(ClientRunning); err != nil {
			h.logger.Error("Failed to mark client running", zap.Error(err))
		}
	}
	n.notifyState(StateStarting, StateRunning)
	n.logger.Info("Node running", zap.Duration("startup", n.clock.Since(began)))

	for _, s := range strategies {
		st, ok := s.(Startable)
		if !ok {
			continue
		}
		if err := bounded(runCtx, n.clock, n.cfg.Timeouts.strategyStart(), st.OnStart); err != nil {
			n.logger.Warn("Strategy failed to start", zap.String("strategy", s.ID()), zap.Error(err))
		}
	}

	n.startMonitors(runCtx, handles)

	n.residuals = NewResidualOrderChecker(
		exec, n.cache, n.clock,
		n.cfg.Timeouts.ResidualCheckDelay, n.cfg.ResidualCheckInterval, n.cfg.Timeouts.Reconciliation,
		n.observer, n.metrics, n.logger,
	)
	n.residuals.Start(runCtx)

	return nil
}

func (n *TradingNode) startup(ctx context.Context) error {
	n.mu.Lock()
	all := n.allHandlesLocked()
	exec := append([]*ClientHandle(nil), n.execHandles...)
	n.mu.Unlock()

	if err := n.runPhase(ctx, PhaseConnection, all, n.supervisor.Supervise); err != nil {
		return err
	}

	err := n.runPhase(ctx, PhaseReconciliation, exec, func(ctx context.Context, h *ClientHandle) error {
		_, err := n.reconciler.Reconcile(ctx, h)
		return err
	})
	if err != nil {
		return err
	}

	if err := bounded(ctx, n.clock, n.cfg.Timeouts.Reconciliation, n.cache.Flush); err != nil {
		n.logger.Warn("Failed to flush reconciled cache", zap.Error(err))
	}

	return n.initPortfolio(ctx)
}

// runPhase runs fn for every handle concurrently. The first failure cancels
// the remaining calls and is returned.
func (n *TradingNode) runPhase(ctx context.Context, phase Phase, handles []*ClientHandle, fn func(context.Context, *ClientHandle) error) error {
	began := n.clock.Now()
	defer func() {
		n.metrics.observePhase(phase, n.clock.Since(began))
	}()

	if len(handles) == 0 {
		return nil
	}

	n.logger.Info("Phase started", zap.String("phase", string(phase)), zap.Int("clients", len(handles)))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, h := range handles {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, h)
		})
	}
	return p.Wait()
}

func (n *TradingNode) initPortfolio(ctx context.Context) error {
	began := n.clock.Now()
	defer func() {
		n.metrics.observePhase(PhasePortfolio, n.clock.Since(began))
	}()

	if n.portfolio == nil {
		return nil
	}

	err := bounded(ctx, n.clock, n.cfg.Timeouts.Portfolio, func(ctx context.Context) error {
		return n.portfolio.Initialize(ctx, n.cache.ReadSnapshot())
	})

	switch classify(ctx, err) {
	case outcomeOK:
		return nil
	case outcomeAborted:
		return &FaultError{Phase: PhasePortfolio, Kind: ErrStartAborted, Err: err}
	default:
		return &FaultError{Phase: PhasePortfolio, Kind: ErrPortfolioInit, Err: err}
	}
}

func (n *TradingNode) startMonitors(ctx context.Context, handles []*ClientHandle) {
	for _, h := range handles {
		hr, ok := h.healthReporter()
		if !ok {
			continue
		}
		m := &healthMonitor{
			handle:   h,
			events:   hr.Health(),
			max:      n.cfg.MaxConsecutiveFailures,
			observer: n.observer,
			metrics:  n.metrics,
			onFault:  n.runtimeFault,
		}
		n.monitors.Add(1)
		go m.run(ctx, &n.monitors)
	}
}

// runtimeFault moves a running node to Faulted and starts shutdown.
func (n *TradingNode) runtimeFault(fault *FaultError) {
	n.mu.Lock()
	if n.state != StateRunning || n.disposing.Load() {
		n.mu.Unlock()
		return
	}
	if _, err := n.setStateLocked(StateFaulted); err != nil {
		n.mu.Unlock()
		n.logger.Error("Failed to mark node faulted", zap.Error(err))
		return
	}
	n.fault = fault
	n.mu.Unlock()

	n.notifyState(StateRunning, StateFaulted)
	n.observer.OnFault(fault)
	n.logger.Error("Runtime fault, shutting down", zap.Error(fault))

	go n.Dispose()
}
