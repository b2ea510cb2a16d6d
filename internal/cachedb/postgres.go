package cachedb

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cache_orders (
	client_order_id TEXT PRIMARY KEY,
	venue           TEXT NOT NULL,
	venue_order_id  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	data            JSONB NOT NULL,
	saved_at        TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS cache_positions (
	position_key TEXT PRIMARY KEY,
	venue        TEXT NOT NULL,
	data         JSONB NOT NULL,
	saved_at     TIMESTAMPTZ NOT NULL
);
`

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type orderRow struct {
	ClientOrderID string    `db:"client_order_id"`
	Venue         string    `db:"venue"`
	VenueOrderID  string    `db:"venue_order_id"`
	Status        string    `db:"status"`
	Data          []byte    `db:"data"`
	SavedAt       time.Time `db:"saved_at"`
}

type positionRow struct {
	PositionKey string    `db:"position_key"`
	Venue       string    `db:"venue"`
	Data        []byte    `db:"data"`
	SavedAt     time.Time `db:"saved_at"`
}

// Postgres stores the snapshot in two tables, replaced in one transaction.
type Postgres struct {
	db    *sqlx.DB
	clock clock.Clock
}

var _ cache.Database = (*Postgres)(nil)

// NewPostgres connects with the pgx driver and creates the tables if needed.
func NewPostgres(dsn string, pool PoolConfig, clk clock.Clock) (*Postgres, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	db.SetMaxIdleConns(pool.MaxIdleConns)
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	p := &Postgres{db: db, clock: clk}
	if err := p.RunMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// RunMigrations creates the cache tables
func (p *Postgres) RunMigrations(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) ([]model.Order, []model.Position, error) {
	var orderRows []orderRow
	if err := p.db.SelectContext(ctx, &orderRows,
		`SELECT client_order_id, venue, venue_order_id, status, data, saved_at FROM cache_orders ORDER BY client_order_id`); err != nil {
		return nil, nil, fmt.Errorf("failed to load orders: %w", err)
	}
	var positionRows []positionRow
	if err := p.db.SelectContext(ctx, &positionRows,
		`SELECT position_key, venue, data, saved_at FROM cache_positions ORDER BY position_key`); err != nil {
		return nil, nil, fmt.Errorf("failed to load positions: %w", err)
	}

	orders := make([]model.Order, 0, len(orderRows))
	for _, row := range orderRows {
		o, err := decodeOrder(row.Data)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, o)
	}
	positions := make([]model.Position, 0, len(positionRows))
	for _, row := range positionRows {
		pos, err := decodePosition(row.Data)
		if err != nil {
			return nil, nil, err
		}
		positions = append(positions, pos)
	}
	return orders, positions, nil
}

func (p *Postgres) Save(ctx context.Context, orders []model.Order, positions []model.Position) error {
	now := p.clock.Now().UTC()

	orderRows := make([]orderRow, 0, len(orders))
	for _, o := range orders {
		data, err := encodeOrder(o)
		if err != nil {
			return err
		}
		orderRows = append(orderRows, orderRow{
			ClientOrderID: o.ClientOrderID,
			Venue:         string(o.Venue),
			VenueOrderID:  o.VenueOrderID,
			Status:        string(o.Status),
			Data:          data,
			SavedAt:       now,
		})
	}
	positionRows := make([]positionRow, 0, len(positions))
	for _, pos := range positions {
		data, err := encodePosition(pos)
		if err != nil {
			return err
		}
		positionRows = append(positionRows, positionRow{
			PositionKey: pos.Key(),
			Venue:       string(pos.Venue),
			Data:        data,
			SavedAt:     now,
		})
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_orders`); err != nil {
		return fmt.Errorf("failed to clear orders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_positions`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}
	if len(orderRows) > 0 {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO cache_orders (client_order_id, venue, venue_order_id, status, data, saved_at)
			VALUES (:client_order_id, :venue, :venue_order_id, :status, :data, :saved_at)`, orderRows); err != nil {
			return fmt.Errorf("failed to save orders: %w", err)
		}
	}
	if len(positionRows) > 0 {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO cache_positions (position_key, venue, data, saved_at)
			VALUES (:position_key, :venue, :data, :saved_at)`, positionRows); err != nil {
			return fmt.Errorf("failed to save positions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache snapshot: %w", err)
	}
	return nil
}

// Ping verifies the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
