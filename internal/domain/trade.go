package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuantityPrecision is the number of decimal places carried for quantities
// and money amounts. Matches the smallest unit the exchange accepts.
const QuantityPrecision = 8

// Trade is one opened position attempt, tracked from entry order to a
// terminal state. Prices, quantities and pnl are fixed-point decimals;
// float arithmetic is never used for money.
type Trade struct {
	ID      int64  // store-assigned
	OrderID string // exchange id of the entry order

	Symbol       string
	Side         Side
	EntryPrice   decimal.Decimal
	Quantity     decimal.Decimal // remaining base quantity
	PositionSize decimal.Decimal // remaining notional (quote currency)
	Leverage     int

	// Protective levels. CurrentSL ratchets toward profit and never regresses.
	TP1Price  decimal.Decimal
	TP2Price  decimal.Decimal
	TP3Price  decimal.Decimal
	SLPrice   decimal.Decimal
	CurrentSL decimal.Decimal
	CurrentTP decimal.Decimal

	// Take-profit ladder order ids, immutable once set.
	TP1OrderID string
	TP2OrderID string
	TP3OrderID string

	StrategyType string
	BotName      string

	Status     TradeStatus
	PnL        decimal.Decimal
	PnLPercent decimal.Decimal

	FilledAt  *time.Time
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PnLFor computes side-aware leveraged profit for closing qty at exitPrice:
// (exit - entry) * qty * leverage, sign-flipped for shorts.
func (t *Trade) PnLFor(exitPrice, qty decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(t.EntryPrice)
	if t.Side == Short {
		diff = diff.Neg()
	}
	return diff.Mul(qty).Mul(decimal.NewFromInt(int64(t.Leverage))).Truncate(QuantityPrecision)
}

// UnrealizedPnL is the leveraged pnl of the full remaining quantity at price.
func (t *Trade) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return t.PnLFor(price, t.Quantity)
}

// ReachedLevel reports whether price has crossed a take-profit level for
// the trade's direction: >= for longs, <= for shorts.
func (t *Trade) ReachedLevel(price, level decimal.Decimal) bool {
	if t.Side == Long {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// StopCrossed reports whether price has crossed the live stop-loss.
func (t *Trade) StopCrossed(price decimal.Decimal) bool {
	if t.CurrentSL.IsZero() {
		return false
	}
	if t.Side == Long {
		return price.LessThanOrEqual(t.CurrentSL)
	}
	return price.GreaterThanOrEqual(t.CurrentSL)
}

// MoreProtectiveStop reports whether newStop locks in more profit than the
// current live stop for the trade's direction. A zero current stop accepts
// any stop.
func (t *Trade) MoreProtectiveStop(newStop decimal.Decimal) bool {
	if t.CurrentSL.IsZero() {
		return true
	}
	if t.Side == Long {
		return newStop.GreaterThan(t.CurrentSL)
	}
	return newStop.LessThan(t.CurrentSL)
}

// TakeProfitOrderIDs returns the recorded ladder ids keyed by leg (1..3).
// Unplaced legs are absent.
func (t *Trade) TakeProfitOrderIDs() map[int]string {
	ids := make(map[int]string, 3)
	if t.TP1OrderID != "" {
		ids[1] = t.TP1OrderID
	}
	if t.TP2OrderID != "" {
		ids[2] = t.TP2OrderID
	}
	if t.TP3OrderID != "" {
		ids[3] = t.TP3OrderID
	}
	return ids
}

// OwnsOrder reports whether orderID is the trade's entry order or one of
// its take-profit legs.
func (t *Trade) OwnsOrder(orderID string) bool {
	if orderID == "" {
		return false
	}
	return orderID == t.OrderID || orderID == t.TP1OrderID ||
		orderID == t.TP2OrderID || orderID == t.TP3OrderID
}

// FloorToStep rounds qty down to a multiple of the instrument's quantity step.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty.Truncate(QuantityPrecision)
	}
	return qty.Div(step).Floor().Mul(step).Truncate(QuantityPrecision)
}
