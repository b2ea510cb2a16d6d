package cachedb

import (
	"context"
	"sync"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/model"
)

// Memory keeps the last saved snapshot in process. Nothing survives a
// restart.
type Memory struct {
	mu        sync.RWMutex
	orders    []model.Order
	positions []model.Position
	closed    bool
}

var _ cache.Database = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) ([]model.Order, []model.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, nil, ErrClosed
	}
	return append([]model.Order(nil), m.orders...), append([]model.Position(nil), m.positions...), nil
}

func (m *Memory) Save(_ context.Context, orders []model.Order, positions []model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.orders = append([]model.Order(nil), orders...)
	m.positions = append([]model.Position(nil), positions...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
