// Package venue defines the capabilities the node requires from venue
// adapter clients and the factories that build them.
package venue

import (
	"context"
	"time"

	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"go.uber.org/zap"
)

// Role distinguishes market-data clients from execution clients.
type Role string

const (
	RoleData      Role = "data"
	RoleExecution Role = "execution"
)

func (r Role) String() string {
	return string(r)
}

// Connectable clients establish their venue session in Connect. Connect must
// return promptly once ctx is done.
type Connectable interface {
	Connect(ctx context.Context) error
}

// Disconnectable clients close their venue session gracefully.
type Disconnectable interface {
	Disconnect(ctx context.Context) error
}

// Disposable clients release every resource they hold. Dispose must not block
// on the venue.
type Disposable interface {
	Dispose()
}

// Reconcilable clients report the venue's authoritative account state.
type Reconcilable interface {
	FetchAccountSnapshot(ctx context.Context) (model.AccountSnapshot, error)
}

// HealthKind classifies runtime health events.
type HealthKind int

const (
	HealthDisconnected HealthKind = iota
	HealthError
	HealthRecovered
)

func (k HealthKind) String() string {
	switch k {
	case HealthDisconnected:
		return "disconnected"
	case HealthError:
		return "error"
	case HealthRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

type HealthEvent struct {
	Kind HealthKind
	Err  error
	At   time.Time
}

// HealthReporter clients surface steady-state failures and recoveries.
// The channel is closed when the client is disposed.
type HealthReporter interface {
	Health() <-chan HealthEvent
}

// DataClient is the minimum a market-data adapter implements.
type DataClient interface {
	Connectable
	Disconnectable
	Disposable
}

// ExecutionClient is the minimum an execution adapter implements.
type ExecutionClient interface {
	Connectable
	Disconnectable
	Disposable
	Reconcilable
}

// FactoryContext carries the node-level collaborators a factory may hand to
// the client it builds.
type FactoryContext struct {
	TraderID string
	Logger   *zap.Logger
	Clock    clock.Clock
}

type DataClientFactory interface {
	NewDataClient(fc FactoryContext, v model.Venue, params Params) (DataClient, error)
}

type ExecClientFactory interface {
	NewExecClient(fc FactoryContext, v model.Venue, params Params) (ExecutionClient, error)
}

// DataClientFactoryFunc adapts a function to DataClientFactory.
type DataClientFactoryFunc func(fc FactoryContext, v model.Venue, params Params) (DataClient, error)

func (f DataClientFactoryFunc) NewDataClient(fc FactoryContext, v model.Venue, params Params) (DataClient, error) {
	return f(fc, v, params)
}

// ExecClientFactoryFunc adapts a function to ExecClientFactory.
type ExecClientFactoryFunc func(fc FactoryContext, v model.Venue, params Params) (ExecutionClient, error)

func (f ExecClientFactoryFunc) NewExecClient(fc FactoryContext, v model.Venue, params Params) (ExecutionClient, error) {
	return f(fc, v, params)
}
