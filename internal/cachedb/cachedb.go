// Package cachedb persists the node cache between runs. The backend is
// selected by cache_database.type; every backend replaces its whole content
// on Save so a Load always returns the last flushed snapshot.
package cachedb

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/backtesting-org/trading-node/internal/config"
	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
)

var ErrClosed = errors.New("cache database closed")

const (
	TypeMemory   = "memory"
	TypeBadger   = "badger"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
)

// New opens the configured backend.
func New(cfg config.CacheDatabaseConfig, clk clock.Clock, logger *zap.Logger) (cache.Database, error) {
	logger = logger.Named("cachedb").With(zap.String("type", cfg.Type))

	var (
		db  cache.Database
		err error
	)
	switch cfg.Type {
	case TypeMemory, "":
		db = NewMemory()
	case TypeBadger:
		db, err = NewBadger(cfg.Path, cfg.InMemory, cfg.KeyPrefix)
	case TypeRedis:
		db = NewRedis(cfg.Address, cfg.Password, cfg.DB, cfg.KeyPrefix)
	case TypePostgres:
		db, err = NewPostgres(cfg.DSN, PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, clk)
	default:
		return nil, fmt.Errorf("unknown cache database type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Cache database opened")
	return db, nil
}

func encodeOrder(o model.Order) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order %s: %w", o.ClientOrderID, err)
	}
	return b, nil
}

func decodeOrder(b []byte) (model.Order, error) {
	var o model.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return o, fmt.Errorf("failed to decode order: %w", err)
	}
	return o, nil
}

func encodePosition(p model.Position) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode position %s: %w", p.Key(), err)
	}
	return b, nil
}

func decodePosition(b []byte) (model.Position, error) {
	var p model.Position
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("failed to decode position: %w", err)
	}
	return p, nil
}
