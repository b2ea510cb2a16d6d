// Package portfolio values the reconciled positions before the node starts
// trading.
package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource supplies mark prices for valuation. Implementations may block
// on the venue and must honour ctx.
type PriceSource interface {
	MarkPrice(ctx context.Context, instrument model.InstrumentID) (decimal.Decimal, error)
}

// PositionValue is one valued position.
type PositionValue struct {
	Position      model.Position  `json:"position"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	Notional      decimal.Decimal `json:"notional"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// Valuation is the portfolio state computed at initialization.
type Valuation struct {
	Positions []PositionValue `json:"positions"`
	// Exposure is the gross notional per settlement currency.
	Exposure      map[string]decimal.Decimal `json:"exposure"`
	UnrealizedPnL map[string]decimal.Decimal `json:"unrealized_pnl"`
	OpenOrders    int                        `json:"open_orders"`
	ValuedAt      time.Time                  `json:"valued_at"`
}

// Limits caps what a freshly reconciled portfolio may hold. Zero values
// disable the check.
type Limits struct {
	MaxPositionNotional decimal.Decimal
	MaxTotalExposure    decimal.Decimal
}

type Portfolio struct {
	mu        sync.RWMutex
	valuation *Valuation
	prices    PriceSource
	limits    Limits
	clock     clock.Clock
	logger    *zap.Logger
}

// NewPortfolio creates a portfolio. prices may be nil, in which case
// positions are marked at their entry price.
func NewPortfolio(logger *zap.Logger, clk clock.Clock, prices PriceSource, limits Limits) *Portfolio {
	return &Portfolio{
		prices: prices,
		limits: limits,
		clock:  clk,
		logger: logger.Named("portfolio"),
	}
}

// Initialize values every position in snap. It returns when valuation
// completes or ctx is done, whichever comes first.
func (p *Portfolio) Initialize(ctx context.Context, snap cache.Snapshot) error {
	v := &Valuation{
		Exposure:      make(map[string]decimal.Decimal),
		UnrealizedPnL: make(map[string]decimal.Decimal),
		OpenOrders:    len(snap.OpenOrders("")),
	}

	for _, pos := range snap.Positions() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("portfolio valuation interrupted: %w", context.Cause(ctx))
		}
		if pos.Quantity.IsZero() {
			continue
		}

		mark, err := p.markPrice(ctx, pos)
		if err != nil {
			return fmt.Errorf("failed to price %s: %w", pos.InstrumentID, err)
		}

		notional := pos.Quantity.Abs().Mul(mark)
		pv := PositionValue{
			Position:      pos,
			MarkPrice:     mark,
			Notional:      notional,
			UnrealizedPnL: mark.Sub(pos.EntryPrice).Mul(pos.Quantity),
		}

		if !p.limits.MaxPositionNotional.IsZero() && notional.GreaterThan(p.limits.MaxPositionNotional) {
			return fmt.Errorf("position %s notional %s exceeds limit %s",
				pos.Key(), notional.String(), p.limits.MaxPositionNotional.String())
		}

		v.Positions = append(v.Positions, pv)
		v.Exposure[pos.Currency] = v.Exposure[pos.Currency].Add(notional)
		v.UnrealizedPnL[pos.Currency] = v.UnrealizedPnL[pos.Currency].Add(pv.UnrealizedPnL)
	}

	if !p.limits.MaxTotalExposure.IsZero() {
		for currency, exposure := range v.Exposure {
			if exposure.GreaterThan(p.limits.MaxTotalExposure) {
				return fmt.Errorf("total %s exposure %s exceeds limit %s",
					currency, exposure.String(), p.limits.MaxTotalExposure.String())
			}
		}
	}

	v.ValuedAt = p.clock.Now()

	p.mu.Lock()
	p.valuation = v
	p.mu.Unlock()

	p.logger.Info("Portfolio initialized",
		zap.Int("positions", len(v.Positions)),
		zap.Int("open_orders", v.OpenOrders))

	return nil
}

func (p *Portfolio) markPrice(ctx context.Context, pos model.Position) (decimal.Decimal, error) {
	if p.prices == nil {
		return pos.EntryPrice, nil
	}
	return p.prices.MarkPrice(ctx, pos.InstrumentID)
}

// Valuation returns the last computed valuation, or nil before Initialize
// has succeeded.
func (p *Portfolio) Valuation() *Valuation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valuation
}

// TotalExposure returns the gross notional in currency.
func (p *Portfolio) TotalExposure(currency string) decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.valuation == nil {
		return decimal.Zero
	}
	return p.valuation.Exposure[currency]
}
