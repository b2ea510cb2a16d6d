package node

import (
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/backtesting-org/trading-node/pkg/venue"
)

// Observer receives node lifecycle notifications. Calls are made
// synchronously from node goroutines and must not block.
type Observer interface {
	OnNodeState(from, to State)
	OnClientState(v model.Venue, role venue.Role, from, to ClientState)
	OnReconciliation(report model.ReconciliationReport)
	OnResidualOrders(v model.Venue, orders []model.Order)
	OnFault(err *FaultError)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnNodeState(State, State)                                     {}
func (NopObserver) OnClientState(model.Venue, venue.Role, ClientState, ClientState) {}
func (NopObserver) OnReconciliation(model.ReconciliationReport)                  {}
func (NopObserver) OnResidualOrders(model.Venue, []model.Order)                  {}
func (NopObserver) OnFault(*FaultError)                                          {}
