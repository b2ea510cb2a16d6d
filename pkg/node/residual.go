package node

import (
	"context"
	"sync"
	"time"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"go.uber.org/zap"
)

// FindResiduals returns the open venue orders the cache does not know.
func FindResiduals(v model.Venue, snap model.AccountSnapshot, cached cache.Snapshot) []model.Order {
	var residual []model.Order
	for _, vo := range snap.Orders {
		if vo.VenueOrderID != "" {
			if _, ok := cached.OrderByVenueID(v, vo.VenueOrderID); ok {
				continue
			}
		}
		if vo.ClientOrderID != "" {
			if co, ok := cached.Order(vo.ClientOrderID); ok && co.Venue == v {
				continue
			}
		}
		vo.Venue = v
		residual = append(residual, vo)
	}
	return residual
}

// ResidualOrderChecker audits execution venues for orders unknown to the
// cache. It only reports; it never mutates node or cache state.
type ResidualOrderChecker struct {
	clients  []*ClientHandle
	cache    *cache.Cache
	clock    clock.Clock
	delay    time.Duration
	interval time.Duration
	timeout  time.Duration
	observer Observer
	metrics  *Metrics
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewResidualOrderChecker(
	clients []*ClientHandle,
	c *cache.Cache,
	clk clock.Clock,
	delay, interval, timeout time.Duration,
	observer Observer,
	metrics *Metrics,
	logger *zap.Logger,
) *ResidualOrderChecker {
	return &ResidualOrderChecker{
		clients:  clients,
		cache:    c,
		clock:    clk,
		delay:    delay,
		interval: interval,
		timeout:  timeout,
		observer: observer,
		metrics:  metrics,
		logger:   logger.Named("residuals"),
	}
}

// Check fetches every client's snapshot and reports residual orders per
// venue. Fetch failures are logged and skipped.
func (rc *ResidualOrderChecker) Check(ctx context.Context) map[model.Venue][]model.Order {
	found := make(map[model.Venue][]model.Order)
	for _, h := range rc.clients {
		r, ok := h.reconcilable()
		if !ok || h.State() != ClientRunning {
			continue
		}

		var snap model.AccountSnapshot
		err := bounded(ctx, rc.clock, rc.timeout, func(ctx context.Context) error {
			s, err := r.FetchAccountSnapshot(ctx)
			snap = s
			return err
		})
		if err != nil {
			h.logger.Warn("Residual check skipped", zap.Error(err))
			continue
		}

		residual := FindResiduals(h.venue, snap, rc.cache.ReadSnapshot())
		if len(residual) == 0 {
			h.logger.Debug("No residual orders")
			continue
		}

		found[h.venue] = residual
		rc.metrics.ResidualOrders.WithLabelValues(string(h.venue)).Add(float64(len(residual)))
		for _, o := range residual {
			h.logger.Warn("Residual order at venue",
				zap.String("venue_order_id", o.VenueOrderID),
				zap.String("client_order_id", o.ClientOrderID),
				zap.String("instrument", string(o.InstrumentID)),
				zap.String("status", string(o.Status)))
		}
		rc.observer.OnResidualOrders(h.venue, residual)
	}
	return found
}

// Start schedules the first check after the configured delay and, when an
// interval is set, repeats it until Stop.
func (rc *ResidualOrderChecker) Start(ctx context.Context) {
	ctx, rc.cancel = context.WithCancel(ctx)
	timer := rc.clock.NewTimer(rc.delay)

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C():
		}
		rc.Check(ctx)

		if rc.interval <= 0 {
			return
		}

		ticker := rc.clock.NewTicker(rc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				rc.Check(ctx)
			}
		}
	}()
}

// Stop cancels pending checks and waits for an in-flight one to finish.
func (rc *ResidualOrderChecker) Stop() {
	if rc.cancel != nil {
		rc.cancel()
	}
	rc.wg.Wait()
}
