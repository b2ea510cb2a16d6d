package cachedb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/model"
)

// Badger stores one key per order and per position.
type Badger struct {
	db        *badger.DB
	orderKey  []byte
	positions []byte
}

var _ cache.Database = (*Badger)(nil)

// NewBadger opens the store at path, or a throwaway in-memory store when
// inMemory is set.
func NewBadger(path string, inMemory bool, keyPrefix string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache database: %w", err)
	}
	return &Badger{
		db:        db,
		orderKey:  []byte(keyPrefix + ":order:"),
		positions: []byte(keyPrefix + ":position:"),
	}, nil
}

func (b *Badger) Load(ctx context.Context) ([]model.Order, []model.Position, error) {
	var (
		orders    []model.Order
		positions []model.Position
	)
	err := b.db.View(func(txn *badger.Txn) error {
		if err := scanPrefix(ctx, txn, b.orderKey, func(v []byte) error {
			o, err := decodeOrder(v)
			if err == nil {
				orders = append(orders, o)
			}
			return err
		}); err != nil {
			return err
		}
		return scanPrefix(ctx, txn, b.positions, func(v []byte) error {
			p, err := decodePosition(v)
			if err == nil {
				positions = append(positions, p)
			}
			return err
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load from badger: %w", err)
	}
	return orders, positions, nil
}

// Save replaces the stored snapshot in a single transaction.
func (b *Badger) Save(ctx context.Context, orders []model.Order, positions []model.Position) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{b.orderKey, b.positions} {
			keys, err := keysWithPrefix(txn, prefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}

		for _, o := range orders {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := encodeOrder(o)
			if err != nil {
				return err
			}
			if err := txn.Set(append(append([]byte(nil), b.orderKey...), o.ClientOrderID...), v); err != nil {
				return err
			}
		}
		for _, p := range positions {
			v, err := encodePosition(p)
			if err != nil {
				return err
			}
			if err := txn.Set(append(append([]byte(nil), b.positions...), p.Key()...), v); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("cache snapshot too large for one badger transaction: %w", err)
	}
	if err != nil {
		return fmt.Errorf("failed to save to badger: %w", err)
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func scanPrefix(ctx context.Context, txn *badger.Txn, prefix []byte, fn func([]byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func keysWithPrefix(txn *badger.Txn, prefix []byte) ([][]byte, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}
