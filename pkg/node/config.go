package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// TimeoutBudget holds one bound per lifecycle phase. It is copied into the
// node at construction and never changes afterwards.
type TimeoutBudget struct {
	Connection         time.Duration
	Reconciliation     time.Duration
	Portfolio          time.Duration
	Disconnection      time.Duration
	ResidualCheckDelay time.Duration
	// StrategyStart bounds each strategy's OnStart once the node is
	// Running. Zero means DefaultStrategyStart.
	StrategyStart      time.Duration
}

// DefaultStrategyStart is used when TimeoutBudget.StrategyStart is zero.
const DefaultStrategyStart = 5 * time.Second

// DefaultTimeouts returns five-second phase bounds and a two-second residual
// check delay.
func DefaultTimeouts() TimeoutBudget {
	return TimeoutBudget{
		Connection:         5 * time.Second,
		Reconciliation:     5 * time.Second,
		Portfolio:          5 * time.Second,
		Disconnection:      5 * time.Second,
		ResidualCheckDelay: 2 * time.Second,
		StrategyStart:      DefaultStrategyStart,
	}
}

func (b TimeoutBudget) strategyStart() time.Duration {
	if b.StrategyStart == 0 {
		return DefaultStrategyStart
	}
	return b.StrategyStart
}

func (b TimeoutBudget) Validate() error {
	var errs []error
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"connection", b.Connection},
		{"reconciliation", b.Reconciliation},
		{"portfolio", b.Portfolio},
		{"disconnection", b.Disconnection},
		{"residual_check_delay", b.ResidualCheckDelay},
		{"strategy_start", b.StrategyStart},
	} {
		if t.d < 0 {
			errs = append(errs, fmt.Errorf("timeout %s must be non-negative, got %s", t.name, t.d))
		}
	}
	return errors.Join(errs...)
}

// Config is the node-level configuration. Venue parameters are passed to
// factories untouched.
type Config struct {
	TraderID    string
	DataClients map[model.Venue]venue.Params
	ExecClients map[model.Venue]venue.Params
	Timeouts    TimeoutBudget
	// ResidualCheckInterval repeats the residual check when positive.
	ResidualCheckInterval time.Duration
	// MaxConsecutiveFailures is the runtime failure count per client above
	// which the node faults. Zero disables the threshold.
	MaxConsecutiveFailures int
}

func (c Config) Validate() error {
	var errs []error
	if c.TraderID == "" {
		errs = append(errs, errors.New("trader id is required"))
	}
	if err := c.Timeouts.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ResidualCheckInterval < 0 {
		errs = append(errs, errors.New("residual check interval must be non-negative"))
	}
	if c.MaxConsecutiveFailures < 0 {
		errs = append(errs, errors.New("max consecutive failures must be non-negative"))
	}
	return errors.Join(errs...)
}

func (c Config) clone() Config {
	out := c
	out.DataClients = make(map[model.Venue]venue.Params, len(c.DataClients))
	for v, p := range c.DataClients {
		out.DataClients[v] = p.Clone()
	}
	out.ExecClients = make(map[model.Venue]venue.Params, len(c.ExecClients))
	for v, p := range c.ExecClients {
		out.ExecClients[v] = p.Clone()
	}
	return out
}

// Strategy is anything the node notifies of lifecycle events. Strategies
// opt into notifications by implementing Startable and/or Stoppable.
type Strategy interface {
	ID() string
}

type Startable interface {
	OnStart(ctx context.Context) error
}

type Stoppable interface {
	OnStop(ctx context.Context) error
}

// PortfolioInitializer values reconciled positions before the node runs.
type PortfolioInitializer interface {
	Initialize(ctx context.Context, snap cache.Snapshot) error
}
