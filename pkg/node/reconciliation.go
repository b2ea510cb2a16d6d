package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/backtesting-org/trading-node/pkg/cache"
	"github.com/backtesting-org/trading-node/pkg/clock"
	"github.com/backtesting-org/trading-node/pkg/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExternalOrderPrefix prefixes the client id assigned to venue orders that
// arrive without one.
const ExternalOrderPrefix = "O-EXTERNAL-"

// ExternalOrderID is the client id given to a venue order that arrives
// without one. Venue order ids are only unique per venue.
func ExternalOrderID(v model.Venue, venueOrderID string) string {
	return ExternalOrderPrefix + string(v) + "-" + venueOrderID
}

// Mismatch describes one irreconcilable difference between the cache and a
// venue snapshot.
type Mismatch struct {
	Key    string
	Reason string
}

func (m Mismatch) String() string {
	return m.Key + ": " + m.Reason
}

// MismatchError lists every irreconcilable difference found in one pass.
type MismatchError struct {
	Venue      model.Venue
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("%d irreconcilable difference(s) at %s", len(e.Mismatches), e.Venue)
	for _, m := range e.Mismatches {
		msg += "; " + m.String()
	}
	return msg
}

// Diff compares a venue snapshot with the cache and returns the report that
// brings the cache in line with the venue. It does not touch the cache.
func Diff(v model.Venue, snap model.AccountSnapshot, cached cache.Snapshot, now time.Time) (model.ReconciliationReport, error) {
	report := model.ReconciliationReport{
		ID:          uuid.NewString(),
		Venue:       v,
		GeneratedAt: now,
	}
	var mismatches []Mismatch

	seen := make(map[string]struct{})
	for _, vo := range snap.Orders {
		if vo.Venue != "" && vo.Venue != v {
			mismatches = append(mismatches, Mismatch{Key: vo.VenueOrderID, Reason: fmt.Sprintf("order reported for venue %s", vo.Venue)})
			continue
		}
		if vo.VenueOrderID == "" {
			mismatches = append(mismatches, Mismatch{Key: vo.ClientOrderID, Reason: "order without venue order id"})
			continue
		}
		vo.Venue = v

		co, found := cached.OrderByVenueID(v, vo.VenueOrderID)
		if !found && vo.ClientOrderID != "" {
			if byClient, ok := cached.Order(vo.ClientOrderID); ok {
				if byClient.Venue != v {
					mismatches = append(mismatches, Mismatch{
						Key:    vo.ClientOrderID,
						Reason: fmt.Sprintf("client order id cached for venue %s", byClient.Venue),
					})
					continue
				}
				if byClient.VenueOrderID != "" && byClient.VenueOrderID != vo.VenueOrderID {
					mismatches = append(mismatches, Mismatch{
						Key:    vo.ClientOrderID,
						Reason: fmt.Sprintf("venue order id %s, cached %s", vo.VenueOrderID, byClient.VenueOrderID),
					})
					continue
				}
				co, found = byClient, true
			}
		}

		if !found {
			if vo.ClientOrderID == "" {
				vo.ClientOrderID = ExternalOrderID(v, vo.VenueOrderID)
			}
			vo.External = true
			vo.UpdatedAt = now
			report.ExternalOrders = append(report.ExternalOrders, vo)
			seen[vo.ClientOrderID] = struct{}{}
			continue
		}

		seen[co.ClientOrderID] = struct{}{}
		if co.InstrumentID != vo.InstrumentID {
			mismatches = append(mismatches, Mismatch{
				Key:    co.ClientOrderID,
				Reason: fmt.Sprintf("instrument %s at venue, cached %s", vo.InstrumentID, co.InstrumentID),
			})
			continue
		}
		if co.Side != vo.Side {
			mismatches = append(mismatches, Mismatch{
				Key:    co.ClientOrderID,
				Reason: fmt.Sprintf("side %s at venue, cached %s", vo.Side, co.Side),
			})
			continue
		}

		if co.Status != vo.Status || !co.FilledQty.Equal(vo.FilledQty) || co.VenueOrderID != vo.VenueOrderID {
			updated := co
			updated.VenueOrderID = vo.VenueOrderID
			updated.Status = vo.Status
			updated.FilledQty = vo.FilledQty
			updated.UpdatedAt = now
			report.OrderUpdates = append(report.OrderUpdates, updated)
		}
	}

	for _, co := range cached.OpenOrders(v) {
		if _, ok := seen[co.ClientOrderID]; ok {
			continue
		}
		report.ClosedOrders = append(report.ClosedOrders, co)
	}

	venuePositions := make(map[string]model.Position, len(snap.Positions))
	for _, vp := range snap.Positions {
		if vp.Venue != "" && vp.Venue != v {
			mismatches = append(mismatches, Mismatch{Key: string(vp.InstrumentID), Reason: fmt.Sprintf("position reported for venue %s", vp.Venue)})
			continue
		}
		vp.Venue = v
		venuePositions[vp.Key()] = vp

		cp, ok := cached.Position(v, vp.InstrumentID)
		if !ok {
			if !vp.Quantity.IsZero() {
				report.PositionMismatches = append(report.PositionMismatches, model.PositionMismatch{
					Cached: model.Position{Venue: v, InstrumentID: vp.InstrumentID, Currency: vp.Currency},
					Venue:  vp,
				})
			}
			continue
		}
		if cp.Currency != "" && vp.Currency != "" && cp.Currency != vp.Currency {
			mismatches = append(mismatches, Mismatch{
				Key:    cp.Key(),
				Reason: fmt.Sprintf("currency %s at venue, cached %s", vp.Currency, cp.Currency),
			})
			continue
		}
		if !cp.Quantity.Equal(vp.Quantity) {
			report.PositionMismatches = append(report.PositionMismatches, model.PositionMismatch{Cached: cp, Venue: vp})
		}
	}

	for _, cp := range cached.PositionsForVenue(v) {
		if _, ok := venuePositions[cp.Key()]; ok || cp.Quantity.IsZero() {
			continue
		}
		flat := cp
		flat.Quantity = decimal.Zero
		flat.UpdatedAt = now
		report.PositionMismatches = append(report.PositionMismatches, model.PositionMismatch{Cached: cp, Venue: flat})
	}

	if len(mismatches) > 0 {
		return report, &MismatchError{Venue: v, Mismatches: mismatches}
	}
	return report, nil
}

// ReconciliationEngine fetches each execution client's account snapshot and
// merges the resulting report into the cache.
type ReconciliationEngine struct {
	cache    *cache.Cache
	clock    clock.Clock
	timeout  time.Duration
	observer Observer
	metrics  *Metrics
	logger   *zap.Logger
}

func NewReconciliationEngine(c *cache.Cache, clk clock.Clock, timeout time.Duration, observer Observer, metrics *Metrics, logger *zap.Logger) *ReconciliationEngine {
	return &ReconciliationEngine{
		cache:    c,
		clock:    clk,
		timeout:  timeout,
		observer: observer,
		metrics:  metrics,
		logger:   logger.Named("reconciliation"),
	}
}

// Reconcile runs one pass for h. The fetch and the merge share a single
// reconciliation deadline.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, h *ClientHandle) (model.ReconciliationReport, error) {
	fault := func(kind, err error) error {
		f := &FaultError{Phase: PhaseReconciliation, Venue: h.venue, Role: h.role, Kind: kind, Err: err}
		h.fail(f)
		return f
	}

	rc, ok := h.reconcilable()
	if !ok {
		return model.ReconciliationReport{}, fault(ErrReconciliationFailed, errors.New("client cannot report account state"))
	}
	if err := h.transition(ClientReconciling); err != nil {
		return model.ReconciliationReport{}, err
	}

	var report model.ReconciliationReport
	var mismatch *MismatchError
	err := bounded(ctx, e.clock, e.timeout, func(ctx context.Context) error {
		snap, err := rc.FetchAccountSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		report, err = Diff(h.venue, snap, e.cache.ReadSnapshot(), e.clock.Now())
		if err != nil {
			errors.As(err, &mismatch)
			return err
		}

		// No merge once the deadline has passed; a late report is discarded whole.
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		_, err = e.cache.Merge(report)
		return err
	})

	// report and mismatch are only safe to read once fn has returned, which
	// holds for the ok and failed outcomes.
	switch classify(ctx, err) {
	case outcomeOK:
	case outcomeTimeout:
		return model.ReconciliationReport{}, fault(ErrReconciliationTimeout, err)
	case outcomeAborted:
		return model.ReconciliationReport{}, fault(ErrStartAborted, err)
	default:
		if mismatch != nil {
			return report, fault(ErrReconciliationMismatch, err)
		}
		return report, fault(ErrReconciliationFailed, err)
	}

	e.metrics.observeReport(report)
	e.observer.OnReconciliation(report)

	h.logger.Info("Reconciled account state",
		zap.String("report_id", report.ID),
		zap.Int("external_orders", len(report.ExternalOrders)),
		zap.Int("closed_orders", len(report.ClosedOrders)),
		zap.Int("order_updates", len(report.OrderUpdates)),
		zap.Int("position_mismatches", len(report.PositionMismatches)))
	for _, m := range report.PositionMismatches {
		h.logger.Warn("Position corrected to venue quantity",
			zap.String("instrument", string(m.Venue.InstrumentID)),
			zap.String("cached", m.Cached.Quantity.String()),
			zap.String("venue", m.Venue.Quantity.String()))
	}

	return report, nil
}
