package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/locker"
	"autotrader/internal/ports"
)

var oneHundred = decimal.NewFromInt(100)

// Config holds the dependencies and tunables of the lifecycle service.
type Config struct {
	Logger  ports.Logger
	Gateway ports.ExchangeGateway
	Trades  ports.TradeRepository
	Updates ports.TradeUpdateLogRepository
	Locker  *locker.Locker

	// Quote-currency allocations for the two take-profit ladder legs.
	TP1Notional decimal.Decimal
	TP2Notional decimal.Decimal

	// GatewayTimeout bounds each exchange call made by the service.
	GatewayTimeout time.Duration
}

// Service drives every trade through its lifecycle: entry placement,
// take-profit ladder, stop ratcheting, closing. All mutations of a trade
// run under its lock.
type Service struct {
	logger  ports.Logger
	gateway ports.ExchangeGateway
	trades  ports.TradeRepository
	updates ports.TradeUpdateLogRepository
	locks   *locker.Locker

	tp1Notional    decimal.Decimal
	tp2Notional    decimal.Decimal
	gatewayTimeout time.Duration
}

// NewService validates dependencies and creates the lifecycle service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("exchange gateway is required")
	}
	if cfg.Trades == nil {
		return nil, errors.New("trade repository is required")
	}
	if cfg.Updates == nil {
		return nil, errors.New("trade update repository is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("locker is required")
	}
	if cfg.TP1Notional.LessThanOrEqual(decimal.Zero) || cfg.TP2Notional.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("take-profit notionals must be positive")
	}

	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Service{
		logger:         cfg.Logger,
		gateway:        cfg.Gateway,
		trades:         cfg.Trades,
		updates:        cfg.Updates,
		locks:          cfg.Locker,
		tp1Notional:    cfg.TP1Notional,
		tp2Notional:    cfg.TP2Notional,
		gatewayTimeout: timeout,
	}, nil
}

func tradeKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func signalKey(symbol string, side domain.Side) string {
	return "signal:" + symbol + ":" + string(side)
}

func (s *Service) gwCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.gatewayTimeout)
}

// CreateTrade opens a new position from a validated intent: existing
// exposure on the same symbol and direction is flattened, resting
// same-direction orders are cancelled, leverage is aligned, and the entry
// order is placed and persisted. Nothing is persisted when the exchange
// rejects the entry.
func (s *Service) CreateTrade(ctx context.Context, intent domain.OrderIntent) (*domain.Trade, error) {
	op := "CreateTrade"

	// Concurrent signals for the same symbol and direction serialize here.
	release := s.locks.Acquire(signalKey(intent.Symbol, intent.Side))
	defer release()

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	positions, err := s.gateway.GetPositions(gctx, intent.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching positions: %w", op, err)
	}

	currentLeverage := 0
	for _, pos := range positions {
		currentLeverage = pos.Leverage
		if pos.Side != intent.Side {
			continue
		}
		s.logger.Warn(ctx, op+": flattening existing position before entry", map[string]interface{}{
			"symbol": intent.Symbol, "side": intent.Side, "quantity": pos.Quantity.String(),
		})
		_, err := s.gateway.PlaceOrder(gctx, ports.OrderSpec{
			Symbol:     intent.Symbol,
			Side:       intent.Side.Opposite(),
			Execution:  domain.ExecMarket,
			Quantity:   pos.Quantity,
			ReduceOnly: true,
		})
		if err != nil && !errors.Is(err, ports.ErrPositionAlreadyClosed) {
			return nil, fmt.Errorf("%s: flattening position: %w", op, err)
		}
	}

	openOrders, err := s.gateway.GetOpenOrders(gctx, intent.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching open orders: %w", op, err)
	}
	for _, o := range openOrders {
		if o.Side != intent.Side {
			continue
		}
		s.cancelOrderWarn(gctx, intent.Symbol, o.OrderID, op)
	}

	if currentLeverage != intent.Leverage {
		if err := s.gateway.SetLeverage(gctx, intent.Symbol, intent.Leverage); err != nil {
			return nil, fmt.Errorf("%s: setting leverage: %w", op, err)
		}
	}

	step, err := s.gateway.GetInstrumentStep(gctx, intent.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: fetching instrument step: %w", op, err)
	}
	qty := domain.FloorToStep(intent.Notional.Div(intent.EntryPrice), step)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%s: notional %s too small for step %s at price %s: %w",
			op, intent.Notional, step, intent.EntryPrice, ports.ErrInvalidRequest)
	}

	result, err := s.gateway.PlaceOrder(gctx, ports.OrderSpec{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Execution: intent.Execution,
		Quantity:  qty,
		Price:     intent.EntryPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: placing entry order: %w", op, err)
	}

	now := time.Now().UTC()
	trade := &domain.Trade{
		OrderID:      result.OrderID,
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		EntryPrice:   intent.EntryPrice,
		Quantity:     qty,
		PositionSize: qty.Mul(intent.EntryPrice).Truncate(domain.QuantityPrecision),
		Leverage:     intent.Leverage,
		TP1Price:     intent.TP1Price,
		TP2Price:     intent.TP2Price,
		TP3Price:     intent.TP3Price,
		SLPrice:      intent.SLPrice,
		CurrentSL:    intent.SLPrice,
		CurrentTP:    intent.TP1Price,
		StrategyType: intent.StrategyType,
		BotName:      intent.BotName,
		Status:       domain.StatusOpen,
		CreatedAt:    now,
	}
	if result.Filled {
		trade.Status = domain.StatusFilled
		trade.FilledAt = &now
		if !result.AvgPrice.IsZero() {
			trade.EntryPrice = result.AvgPrice
			trade.PositionSize = qty.Mul(result.AvgPrice).Truncate(domain.QuantityPrecision)
		}
	}

	if err := s.trades.Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	s.appendAudit(ctx, trade, trade.EntryPrice, "trade created")

	s.logger.Info(ctx, op+" successful", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "side": trade.Side,
		"orderID": trade.OrderID, "status": trade.Status, "quantity": qty.String(),
	})

	// A market entry is live immediately: protect it now rather than
	// waiting for the push event.
	if trade.Status == domain.StatusFilled {
		if !trade.SLPrice.IsZero() {
			if err := s.gateway.SetStopLoss(gctx, trade.Symbol, trade.Side, trade.SLPrice); err != nil {
				s.logger.Error(ctx, err, op+": failed to place initial stop-loss", map[string]interface{}{"tradeID": trade.ID})
			}
		}
		if err := s.PlaceTakeProfitLadder(ctx, trade); err != nil {
			s.logger.Error(ctx, err, op+": failed to place take-profit ladder", map[string]interface{}{"tradeID": trade.ID})
		}
	}

	return trade, nil
}

// PlaceTakeProfitLadder places the reduce-only limit legs at tp1 and tp2.
// Legs are independent: one rejection never aborts the other, and a leg
// whose order id is already recorded is skipped.
func (s *Service) PlaceTakeProfitLadder(ctx context.Context, trade *domain.Trade) error {
	op := "PlaceTakeProfitLadder"

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	step, err := s.gateway.GetInstrumentStep(gctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("%s: fetching instrument step: %w", op, err)
	}

	legs := []struct {
		leg      int
		price    decimal.Decimal
		notional decimal.Decimal
		orderID  *string
	}{
		{1, trade.TP1Price, s.tp1Notional, &trade.TP1OrderID},
		{2, trade.TP2Price, s.tp2Notional, &trade.TP2OrderID},
	}

	for _, l := range legs {
		if *l.orderID != "" || l.price.IsZero() {
			continue
		}
		qty := domain.FloorToStep(l.notional.Div(l.price), step)
		if qty.LessThanOrEqual(decimal.Zero) {
			s.logger.Warn(ctx, op+": leg notional below instrument step, skipping", map[string]interface{}{
				"tradeID": trade.ID, "leg": l.leg, "notional": l.notional.String(),
			})
			continue
		}

		result, err := s.gateway.PlaceOrder(gctx, ports.OrderSpec{
			Symbol:     trade.Symbol,
			Side:       trade.Side.Opposite(),
			Execution:  domain.ExecLimit,
			Quantity:   qty,
			Price:      l.price,
			ReduceOnly: true,
		})
		if err != nil {
			s.logger.Error(ctx, err, op+": leg rejected", map[string]interface{}{
				"tradeID": trade.ID, "leg": l.leg, "price": l.price.String(),
			})
			continue
		}

		*l.orderID = result.OrderID
		if err := s.trades.SetTakeProfitOrderID(ctx, trade.ID, l.leg, result.OrderID); err != nil {
			s.logger.Error(ctx, err, op+": failed to persist leg order id", map[string]interface{}{
				"tradeID": trade.ID, "leg": l.leg, "orderID": result.OrderID,
			})
			continue
		}
		s.logger.Info(ctx, op+": leg placed", map[string]interface{}{
			"tradeID": trade.ID, "leg": l.leg, "orderID": result.OrderID, "quantity": qty.String(),
		})
	}
	return nil
}

// EvaluatePriceTrigger advances the trade against an observed price:
// take-profit levels ratchet the stop, a crossed stop closes the position
// in full. Terminal trades are left untouched.
func (s *Service) EvaluatePriceTrigger(ctx context.Context, tradeID int64, price decimal.Decimal) error {
	op := "EvaluatePriceTrigger"

	release := s.locks.Acquire(tradeKey(tradeID))
	defer release()

	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if trade == nil {
		return fmt.Errorf("%s: trade %d: %w", op, tradeID, ports.ErrTradeNotFound)
	}
	if trade.Status.IsTerminal() || trade.Status == domain.StatusOpen {
		return nil
	}

	s.logger.Debug(ctx, op, map[string]interface{}{
		"tradeID": trade.ID, "price": price.String(),
		"unrealizedPnl": trade.UnrealizedPnL(price).String(),
	})

	if trade.StopCrossed(price) {
		s.logger.Warn(ctx, op+": stop-loss crossed, closing position", map[string]interface{}{
			"tradeID": trade.ID, "price": price.String(), "stop": trade.CurrentSL.String(),
		})
		return s.closeLocked(ctx, trade, decimal.NewFromInt(1), price, "stop-loss crossed")
	}

	switch trade.Status {
	case domain.StatusFilled:
		if !trade.TP1Price.IsZero() && trade.ReachedLevel(price, trade.TP1Price) {
			return s.advanceLocked(ctx, trade, domain.StatusTP1Hit, trade.EntryPrice, price, "tp1 level reached")
		}
	case domain.StatusTP1Hit:
		if !trade.TP2Price.IsZero() && trade.ReachedLevel(price, trade.TP2Price) {
			return s.advanceLocked(ctx, trade, domain.StatusTP2Hit, trade.TP1Price, price, "tp2 level reached")
		}
	}
	return nil
}

// advanceLocked moves the trade to next and ratchets its stop to newStop.
// Caller holds the trade lock.
func (s *Service) advanceLocked(ctx context.Context, trade *domain.Trade, next domain.TradeStatus, newStop, price decimal.Decimal, reason string) error {
	op := "AdvanceStatus"

	if !trade.Status.CanTransitionTo(next) {
		return fmt.Errorf("%s: %s -> %s: %w", op, trade.Status, next, ports.ErrInvalidTransition)
	}

	if trade.MoreProtectiveStop(newStop) {
		gctx, cancel := s.gwCtx(ctx)
		err := s.gateway.SetStopLoss(gctx, trade.Symbol, trade.Side, newStop)
		cancel()
		if err != nil {
			s.logger.Error(ctx, err, op+": failed to move stop on exchange", map[string]interface{}{
				"tradeID": trade.ID, "newStop": newStop.String(),
			})
		} else {
			trade.CurrentSL = newStop
		}
	}

	trade.Status = next
	if next == domain.StatusTP2Hit {
		trade.CurrentTP = trade.TP2Price
	}
	if err := s.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	s.appendAudit(ctx, trade, price, reason)

	s.logger.Info(ctx, op+" successful", map[string]interface{}{
		"tradeID": trade.ID, "status": next, "stop": trade.CurrentSL.String(),
	})
	return nil
}

// ClosePosition closes percentage of the trade's remaining quantity with a
// reduce-only market order. A full close moves the trade to CLOSED.
func (s *Service) ClosePosition(ctx context.Context, tradeID int64, percentage, price decimal.Decimal) error {
	op := "ClosePosition"

	if percentage.LessThanOrEqual(decimal.Zero) || percentage.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s: percentage %s out of range (0,1]: %w", op, percentage, ports.ErrInvalidRequest)
	}

	release := s.locks.Acquire(tradeKey(tradeID))
	defer release()

	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if trade == nil {
		return fmt.Errorf("%s: trade %d: %w", op, tradeID, ports.ErrTradeNotFound)
	}

	return s.closeLocked(ctx, trade, percentage, price, "close requested")
}

// closeLocked is ClosePosition's body. Caller holds the trade lock and has
// re-read the trade.
func (s *Service) closeLocked(ctx context.Context, trade *domain.Trade, percentage, price decimal.Decimal, reason string) error {
	op := "ClosePosition"

	if trade.Status.IsTerminal() {
		return fmt.Errorf("%s: trade %d already %s: %w", op, trade.ID, trade.Status, ports.ErrInvalidTransition)
	}
	if !trade.Status.CanTransitionTo(domain.StatusClosed) {
		return fmt.Errorf("%s: trade %d in status %s cannot be closed: %w", op, trade.ID, trade.Status, ports.ErrInvalidTransition)
	}

	gctx, cancel := s.gwCtx(ctx)
	defer cancel()

	step, err := s.gateway.GetInstrumentStep(gctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("%s: fetching instrument step: %w", op, err)
	}
	closeQty := domain.FloorToStep(trade.Quantity.Mul(percentage), step)
	fullClose := percentage.Equal(decimal.NewFromInt(1)) || closeQty.GreaterThanOrEqual(trade.Quantity)

	// Clamp to the exchange-reported open size; the position may have been
	// reduced behind our back by a triggered stop or take-profit order.
	positions, err := s.gateway.GetPositions(gctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("%s: fetching positions: %w", op, err)
	}
	reported := decimal.Zero
	for _, pos := range positions {
		if pos.Side == trade.Side {
			reported = pos.Quantity
			break
		}
	}
	if reported.IsZero() {
		s.logger.Warn(ctx, op+": no open position on exchange, marking closed", map[string]interface{}{"tradeID": trade.ID})
		return s.markClosedLocked(ctx, trade, price, "position already flat on exchange")
	}
	if closeQty.GreaterThan(reported) {
		closeQty = reported
	}
	if closeQty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%s: close quantity rounds to zero: %w", op, ports.ErrInvalidRequest)
	}

	result, err := s.gateway.PlaceOrder(gctx, ports.OrderSpec{
		Symbol:     trade.Symbol,
		Side:       trade.Side.Opposite(),
		Execution:  domain.ExecMarket,
		Quantity:   closeQty,
		ReduceOnly: true,
	})
	if err != nil {
		if errors.Is(err, ports.ErrPositionAlreadyClosed) {
			s.logger.Warn(ctx, op+": exchange reports position already closed", map[string]interface{}{"tradeID": trade.ID})
			return s.markClosedLocked(ctx, trade, price, "position already closed on exchange")
		}
		return fmt.Errorf("%s: placing close order: %w", op, err)
	}

	exitPrice := price
	if !result.AvgPrice.IsZero() {
		exitPrice = result.AvgPrice
	}

	realized := trade.PnLFor(exitPrice, closeQty)
	basis := trade.PositionSize
	trade.PnL = trade.PnL.Add(realized)
	if basis.IsPositive() {
		trade.PnLPercent = trade.PnL.Div(basis).Mul(oneHundred).Truncate(4)
	}
	trade.Quantity = trade.Quantity.Sub(closeQty)
	trade.PositionSize = trade.Quantity.Mul(trade.EntryPrice).Truncate(domain.QuantityPrecision)

	if fullClose || trade.Quantity.LessThanOrEqual(decimal.Zero) {
		trade.Quantity = decimal.Zero
		trade.PositionSize = decimal.Zero
		trade.Status = domain.StatusClosed
		now := time.Now().UTC()
		trade.ClosedAt = &now
		s.cancelLadderWarn(gctx, trade, op)
	}

	if err := s.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	s.appendAudit(ctx, trade, exitPrice, reason)

	s.logger.Info(ctx, op+" successful", map[string]interface{}{
		"tradeID": trade.ID, "closedQty": closeQty.String(), "exitPrice": exitPrice.String(),
		"realizedPnl": realized.String(), "status": trade.Status,
	})
	return nil
}

// markClosedLocked finalizes a trade whose position is already flat on the
// exchange. Treated as success per the close contract.
func (s *Service) markClosedLocked(ctx context.Context, trade *domain.Trade, price decimal.Decimal, reason string) error {
	op := "ClosePosition"

	if !trade.Status.CanTransitionTo(domain.StatusClosed) {
		return fmt.Errorf("%s: trade %d in status %s cannot be closed: %w", op, trade.ID, trade.Status, ports.ErrInvalidTransition)
	}
	trade.Status = domain.StatusClosed
	trade.Quantity = decimal.Zero
	trade.PositionSize = decimal.Zero
	now := time.Now().UTC()
	trade.ClosedAt = &now

	gctx, cancel := s.gwCtx(ctx)
	s.cancelLadderWarn(gctx, trade, op)
	cancel()

	if err := s.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	s.appendAudit(ctx, trade, price, reason)
	return nil
}

// UpdateStopLoss moves the trade's stop. The exchange is updated first and
// the store only on success; a stop that does not lock in more profit than
// the current one is refused.
func (s *Service) UpdateStopLoss(ctx context.Context, tradeID int64, newStop decimal.Decimal) error {
	op := "UpdateStopLoss"

	release := s.locks.Acquire(tradeKey(tradeID))
	defer release()

	trade, err := s.trades.FindByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if trade == nil {
		return fmt.Errorf("%s: trade %d: %w", op, tradeID, ports.ErrTradeNotFound)
	}
	if trade.Status.IsTerminal() || trade.Status == domain.StatusOpen {
		return fmt.Errorf("%s: trade %d in status %s has no live position: %w", op, trade.ID, trade.Status, ports.ErrInvalidRequest)
	}
	if !trade.MoreProtectiveStop(newStop) {
		return fmt.Errorf("%s: stop %s does not improve on current %s: %w",
			op, newStop, trade.CurrentSL, ports.ErrInvalidRequest)
	}

	gctx, cancel := s.gwCtx(ctx)
	err = s.gateway.SetStopLoss(gctx, trade.Symbol, trade.Side, newStop)
	cancel()
	if err != nil {
		return fmt.Errorf("%s: updating stop on exchange: %w", op, err)
	}

	trade.CurrentSL = newStop
	if err := s.trades.Update(ctx, trade); err != nil {
		return fmt.Errorf("%s: persisting trade: %w", op, err)
	}
	s.appendAudit(ctx, trade, decimal.Zero, "stop-loss moved")

	s.logger.Info(ctx, op+" successful", map[string]interface{}{"tradeID": trade.ID, "stop": newStop.String()})
	return nil
}

// CancelOrder cancels a resting order on the exchange. When the order is a
// trade's unfilled entry, the trade moves to CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"

	gctx, cancel := s.gwCtx(ctx)
	err := s.gateway.CancelOrder(gctx, symbol, orderID)
	cancel()
	if err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	trade, ferr := s.trades.FindByOrderID(ctx, orderID)
	if ferr != nil || trade == nil || trade.OrderID != orderID {
		return nil
	}

	release := s.locks.Acquire(tradeKey(trade.ID))
	defer release()

	trade, ferr = s.trades.FindByID(ctx, trade.ID)
	if ferr != nil || trade == nil {
		return nil
	}
	if trade.Status == domain.StatusOpen {
		trade.Status = domain.StatusCancelled
		if err := s.trades.Update(ctx, trade); err != nil {
			return fmt.Errorf("%s: persisting trade: %w", op, err)
		}
		s.appendAudit(ctx, trade, decimal.Zero, "entry order cancelled")
	}
	return nil
}

// GetTrade fetches one trade.
func (s *Service) GetTrade(ctx context.Context, id int64) (*domain.Trade, error) {
	trade, err := s.trades.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, fmt.Errorf("trade %d: %w", id, ports.ErrTradeNotFound)
	}
	return trade, nil
}

// ListTrades returns trades matching the filter, newest first.
func (s *Service) ListTrades(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	return s.trades.FindAll(ctx, filter)
}

// ListActiveTrades returns all trades still in a live status.
func (s *Service) ListActiveTrades(ctx context.Context) ([]*domain.Trade, error) {
	return s.trades.FindActive(ctx)
}

// GetTradeUpdates returns a trade's audit trail oldest first.
func (s *Service) GetTradeUpdates(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	return s.updates.FindByTradeID(ctx, tradeID)
}

// appendAudit writes one audit entry; failures are logged, never fatal.
func (s *Service) appendAudit(ctx context.Context, trade *domain.Trade, price decimal.Decimal, reason string) {
	update := &domain.TradeUpdate{
		TradeID:  trade.ID,
		Status:   trade.Status,
		StopLoss: trade.CurrentSL,
		Price:    price,
		Reason:   reason,
	}
	if err := s.updates.Append(ctx, update); err != nil {
		s.logger.Error(ctx, err, "failed to append trade update", map[string]interface{}{"tradeID": trade.ID})
	}
}

// cancelOrderWarn cancels best-effort; failure is logged and swallowed.
func (s *Service) cancelOrderWarn(ctx context.Context, symbol, orderID, op string) {
	if orderID == "" {
		return
	}
	if err := s.gateway.CancelOrder(ctx, symbol, orderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
		s.logger.Warn(ctx, op+": failed to cancel order", map[string]interface{}{
			"symbol": symbol, "orderID": orderID, "error": err.Error(),
		})
	}
}

// cancelLadderWarn cancels any outstanding take-profit legs.
func (s *Service) cancelLadderWarn(ctx context.Context, trade *domain.Trade, op string) {
	for _, id := range trade.TakeProfitOrderIDs() {
		s.cancelOrderWarn(ctx, trade.Symbol, id, op)
	}
}
