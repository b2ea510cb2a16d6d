package cachedb

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/model"
)

// Redis keeps orders and positions in two hashes keyed by client order id
// and position key.
type Redis struct {
	client       *redis.Client
	ordersKey    string
	positionsKey string
}

var _ cache.Database = (*Redis)(nil)

// NewRedis creates the client; nothing is dialed until first use.
func NewRedis(addr, password string, db int, keyPrefix string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisWithClient(client, keyPrefix)
}

func NewRedisWithClient(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{
		client:       client,
		ordersKey:    keyPrefix + ":orders",
		positionsKey: keyPrefix + ":positions",
	}
}

// Ping verifies the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Load(ctx context.Context) ([]model.Order, []model.Position, error) {
	rawOrders, err := r.client.HGetAll(ctx, r.ordersKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load orders from redis: %w", err)
	}
	rawPositions, err := r.client.HGetAll(ctx, r.positionsKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load positions from redis: %w", err)
	}

	orders := make([]model.Order, 0, len(rawOrders))
	for _, v := range rawOrders {
		o, err := decodeOrder([]byte(v))
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, o)
	}
	positions := make([]model.Position, 0, len(rawPositions))
	for _, v := range rawPositions {
		p, err := decodePosition([]byte(v))
		if err != nil {
			return nil, nil, err
		}
		positions = append(positions, p)
	}
	return orders, positions, nil
}

// Save replaces both hashes in one MULTI/EXEC.
func (r *Redis) Save(ctx context.Context, orders []model.Order, positions []model.Position) error {
	orderFields := make(map[string]any, len(orders))
	for _, o := range orders {
		v, err := encodeOrder(o)
		if err != nil {
			return err
		}
		orderFields[o.ClientOrderID] = v
	}
	positionFields := make(map[string]any, len(positions))
	for _, p := range positions {
		v, err := encodePosition(p)
		if err != nil {
			return err
		}
		positionFields[p.Key()] = v
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.ordersKey, r.positionsKey)
		if len(orderFields) > 0 {
			pipe.HSet(ctx, r.ordersKey, orderFields)
		}
		if len(positionFields) > 0 {
			pipe.HSet(ctx, r.positionsKey, positionFields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
