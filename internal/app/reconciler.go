package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const reconcilerQueueSize = 256

// Reconciler consumes the exchange's private order-update stream and folds
// each event into the owning trade, idempotently: replaying an event never
// changes the outcome.
type Reconciler struct {
	logger  ports.Logger
	gateway ports.ExchangeGateway
	trades  ports.TradeRepository
	svc     *Service

	queue chan ports.OrderUpdateEvent
	stop  chan struct{}

	resolveRetries  int
	resolveMinDelay time.Duration
}

// ReconcilerConfig holds the reconciler's dependencies.
type ReconcilerConfig struct {
	Logger  ports.Logger
	Gateway ports.ExchangeGateway
	Trades  ports.TradeRepository
	Service *Service
}

// NewReconciler validates dependencies and creates the reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("exchange gateway is required")
	}
	if cfg.Trades == nil {
		return nil, errors.New("trade repository is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("lifecycle service is required")
	}
	return &Reconciler{
		logger:          cfg.Logger,
		gateway:         cfg.Gateway,
		trades:          cfg.Trades,
		svc:             cfg.Service,
		queue:           make(chan ports.OrderUpdateEvent, reconcilerQueueSize),
		resolveRetries:  5,
		resolveMinDelay: 200 * time.Millisecond,
	}, nil
}

// Start subscribes to the order-update stream and launches the consumer.
// The stream handler only enqueues; a single consumer goroutine processes
// events in arrival order.
func (r *Reconciler) Start(ctx context.Context) error {
	op := "Reconciler.Start"

	handler := func(event ports.OrderUpdateEvent) {
		select {
		case r.queue <- event:
		default:
			r.logger.Error(ctx, nil, op+": event queue full, dropping event", map[string]interface{}{
				"orderID": event.OrderID, "status": event.Status,
			})
		}
	}
	errHandler := func(err error) {
		r.logger.Error(ctx, err, op+": stream error", nil)
	}

	done, stop, err := r.gateway.StreamOrderUpdates(ctx, handler, errHandler)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.stop = stop

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				r.logger.Warn(ctx, op+": order update stream ended", nil)
				return
			case event := <-r.queue:
				if err := r.handleEvent(ctx, event); err != nil {
					r.logger.Error(ctx, err, op+": event handling failed", map[string]interface{}{
						"orderID": event.OrderID, "status": event.Status,
					})
				}
			}
		}
	}()

	r.logger.Info(ctx, op+": consuming order updates", nil)
	return nil
}

// Stop requests stream shutdown.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// handleEvent folds one push event into the owning trade. Unmatched events
// are logged and dropped.
func (r *Reconciler) handleEvent(ctx context.Context, event ports.OrderUpdateEvent) error {
	op := "Reconciler.handleEvent"

	if event.Status != ports.OrderStatusFilled && event.Status != ports.OrderStatusCancelled {
		return nil
	}

	trade := r.resolveTrade(ctx, event.OrderID)
	if trade == nil {
		r.logger.Warn(ctx, op+": no trade owns this order, dropping event", map[string]interface{}{
			"orderID": event.OrderID, "symbol": event.Symbol, "status": event.Status,
		})
		return nil
	}

	release := r.svc.locks.Acquire(tradeKey(trade.ID))
	defer release()

	// The trade may have moved while we waited for the lock.
	trade, err := r.trades.FindByID(ctx, trade.ID)
	if err != nil {
		return fmt.Errorf("%s: re-reading trade: %w", op, err)
	}
	if trade == nil || trade.Status.IsTerminal() {
		return nil
	}

	if event.Trigger != ports.TriggerNone && event.Status == ports.OrderStatusFilled {
		return r.handleTriggerFill(ctx, trade, event)
	}

	switch {
	case event.OrderID == trade.OrderID && event.Status == ports.OrderStatusFilled:
		return r.handleEntryFill(ctx, trade, event)
	case event.OrderID == trade.OrderID && event.Status == ports.OrderStatusCancelled:
		return r.handleEntryCancel(ctx, trade, event)
	case event.OrderID == trade.TP1OrderID && event.Status == ports.OrderStatusFilled:
		return r.handleLadderFill(ctx, trade, event, domain.StatusTP1Hit, trade.EntryPrice, "tp1 order filled")
	case event.OrderID == trade.TP2OrderID && event.Status == ports.OrderStatusFilled:
		return r.handleLadderFill(ctx, trade, event, domain.StatusTP2Hit, trade.TP1Price, "tp2 order filled")
	default:
		// Ladder cancellations and anything else are no-ops.
		return nil
	}
}

// resolveTrade looks up the owner of orderID, retrying briefly: the event
// can arrive before the insert that recorded the order id is visible.
func (r *Reconciler) resolveTrade(ctx context.Context, orderID string) *domain.Trade {
	b := &backoff.Backoff{Min: r.resolveMinDelay, Max: 3 * time.Second, Jitter: true}
	for attempt := 0; attempt < r.resolveRetries; attempt++ {
		trade, err := r.trades.FindByOrderID(ctx, orderID)
		if err != nil {
			r.logger.Error(ctx, err, "Reconciler.resolveTrade: lookup failed", map[string]interface{}{"orderID": orderID})
		} else if trade != nil {
			return trade
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// handleEntryFill moves OPEN to FILLED and arms the protective orders.
// A replay against an already-filled trade is a no-op.
func (r *Reconciler) handleEntryFill(ctx context.Context, trade *domain.Trade, event ports.OrderUpdateEvent) error {
	op := "Reconciler.handleEntryFill"

	if trade.Status != domain.StatusOpen {
		return nil
	}

	now := time.Now().UTC()
	trade.Status = domain.StatusFilled
	trade.FilledAt = &now
	if !event.AvgPrice.IsZero() {
		trade.EntryPrice = event.AvgPrice
		trade.PositionSize = trade.Quantity.Mul(event.AvgPrice).Truncate(domain.QuantityPrecision)
	}

	if err := r.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	r.svc.appendAudit(ctx, trade, trade.EntryPrice, "entry order filled")

	gctx, cancel := r.svc.gwCtx(ctx)
	defer cancel()
	if !trade.SLPrice.IsZero() {
		if err := r.gateway.SetStopLoss(gctx, trade.Symbol, trade.Side, trade.SLPrice); err != nil {
			r.logger.Error(ctx, err, op+": failed to place initial stop-loss", map[string]interface{}{"tradeID": trade.ID})
		}
	}
	if err := r.svc.PlaceTakeProfitLadder(ctx, trade); err != nil {
		r.logger.Error(ctx, err, op+": failed to place take-profit ladder", map[string]interface{}{"tradeID": trade.ID})
	}

	r.logger.Info(ctx, op+": trade filled", map[string]interface{}{
		"tradeID": trade.ID, "entryPrice": trade.EntryPrice.String(),
	})
	return nil
}

// handleEntryCancel moves OPEN to CANCELLED.
func (r *Reconciler) handleEntryCancel(ctx context.Context, trade *domain.Trade, event ports.OrderUpdateEvent) error {
	op := "Reconciler.handleEntryCancel"

	if trade.Status != domain.StatusOpen {
		return nil
	}

	trade.Status = domain.StatusCancelled
	if err := r.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	r.svc.appendAudit(ctx, trade, decimal.Zero, "entry order cancelled on exchange")
	r.logger.Info(ctx, op+": trade cancelled", map[string]interface{}{"tradeID": trade.ID})
	return nil
}

// handleLadderFill realizes a take-profit leg: accumulate pnl, shrink the
// remaining quantity, advance the status and ratchet the stop. A replay
// fails the transition check and becomes a no-op.
func (r *Reconciler) handleLadderFill(ctx context.Context, trade *domain.Trade, event ports.OrderUpdateEvent, next domain.TradeStatus, newStop decimal.Decimal, reason string) error {
	op := "Reconciler.handleLadderFill"

	if !trade.Status.CanTransitionTo(next) {
		return nil
	}

	fillPrice := event.AvgPrice
	if fillPrice.IsZero() {
		fillPrice = trade.CurrentTP
	}
	qty := event.Quantity
	if qty.GreaterThan(trade.Quantity) {
		qty = trade.Quantity
	}

	realized := trade.PnLFor(fillPrice, qty)
	basis := trade.PositionSize
	trade.PnL = trade.PnL.Add(realized)
	if basis.IsPositive() {
		trade.PnLPercent = trade.PnL.Div(basis).Mul(oneHundred).Truncate(4)
	}
	trade.Quantity = trade.Quantity.Sub(qty)
	if trade.Quantity.IsNegative() {
		trade.Quantity = decimal.Zero
	}
	trade.PositionSize = trade.Quantity.Mul(trade.EntryPrice).Truncate(domain.QuantityPrecision)

	if err := r.svc.advanceLocked(ctx, trade, next, newStop, fillPrice, reason); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	r.logger.Info(ctx, op+": ladder leg realized", map[string]interface{}{
		"tradeID": trade.ID, "status": next, "realizedPnl": realized.String(),
	})
	return nil
}

// handleTriggerFill finalizes a trade whose protective order fired on the
// exchange: stop orders end in STOPLOSS, take-profit triggers in TAKEPROFIT.
func (r *Reconciler) handleTriggerFill(ctx context.Context, trade *domain.Trade, event ports.OrderUpdateEvent) error {
	op := "Reconciler.handleTriggerFill"

	next := domain.StatusStopLoss
	if event.Trigger == ports.TriggerTakeProfit {
		next = domain.StatusTakeProfit
	}
	if !trade.Status.CanTransitionTo(next) {
		return nil
	}

	fillPrice := event.AvgPrice
	if fillPrice.IsZero() {
		fillPrice = trade.CurrentSL
	}

	realized := trade.PnLFor(fillPrice, trade.Quantity)
	basis := trade.PositionSize
	trade.PnL = trade.PnL.Add(realized)
	if basis.IsPositive() {
		trade.PnLPercent = trade.PnL.Div(basis).Mul(oneHundred).Truncate(4)
	}
	trade.Quantity = decimal.Zero
	trade.PositionSize = decimal.Zero
	trade.Status = next
	now := time.Now().UTC()
	trade.ClosedAt = &now

	gctx, cancel := r.svc.gwCtx(ctx)
	r.svc.cancelLadderWarn(gctx, trade, op)
	cancel()

	if err := r.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	r.svc.appendAudit(ctx, trade, fillPrice, string(event.Trigger)+" order triggered")

	r.logger.Info(ctx, op+": trade finalized by trigger", map[string]interface{}{
		"tradeID": trade.ID, "status": next, "pnl": trade.PnL.String(),
	})
	return nil
}
