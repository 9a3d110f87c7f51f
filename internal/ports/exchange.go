package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
)

// OrderSpec describes one order to submit to the exchange.
type OrderSpec struct {
	Symbol     string
	Side       domain.Side // direction of the order itself, not the position
	Execution  domain.ExecutionMode
	Quantity   decimal.Decimal
	Price      decimal.Decimal // required for limit orders
	ReduceOnly bool
}

// OrderResult is the exchange's acknowledgement of a placed order.
type OrderResult struct {
	OrderID  string
	Status   string
	AvgPrice decimal.Decimal // fill price when the order executed immediately
	Filled   bool            // true when the order is already fully executed
}

// PositionView is the exchange-reported state of one open position.
type PositionView struct {
	Symbol     string
	Side       domain.Side
	Quantity   decimal.Decimal // absolute open size in base units
	EntryPrice decimal.Decimal
	Leverage   int
}

// OrderView is one resting order as reported by the exchange.
type OrderView struct {
	OrderID string
	Symbol  string
	Side    domain.Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
}

// TriggerType tags a push event that came from a conditional order firing.
type TriggerType string

const (
	TriggerNone       TriggerType = ""
	TriggerStopLoss   TriggerType = "STOP_LOSS"
	TriggerTakeProfit TriggerType = "TAKE_PROFIT"
)

// OrderUpdateEvent is one private push event about an order's state.
type OrderUpdateEvent struct {
	OrderID  string
	Symbol   string
	Side     domain.Side
	Status   string // exchange status: FILLED, CANCELED, ...
	Trigger  TriggerType
	AvgPrice decimal.Decimal
	Quantity decimal.Decimal
}

// Exchange order statuses the reconciler dispatches on.
const (
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELED"
)

// OrderUpdateHandler receives private order events in arrival order. It must
// not block; slow work belongs on the consumer side of a queue.
type OrderUpdateHandler func(event OrderUpdateEvent)

// ExchangeGateway is the single integration point with the exchange.
// Implementations map venue error codes onto the ports sentinels.
type ExchangeGateway interface {
	// PlaceOrder submits an order and returns the exchange acknowledgement.
	PlaceOrder(ctx context.Context, spec OrderSpec) (*OrderResult, error)

	// CancelOrder cancels a resting order by id.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetPositions returns all open positions for the symbol.
	GetPositions(ctx context.Context, symbol string) ([]PositionView, error)

	// GetOpenOrders returns all resting orders for the symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderView, error)

	// SetLeverage sets the account leverage for the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetStopLoss replaces the symbol's position stop with a close-position
	// stop-market order at stopPrice.
	SetStopLoss(ctx context.Context, symbol string, side domain.Side, stopPrice decimal.Decimal) error

	// GetInstrumentStep returns the symbol's minimum quantity increment.
	GetInstrumentStep(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetTickerPrice returns the symbol's last traded price.
	GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// StreamOrderUpdates subscribes to the account's private order events.
	// done closes when the stream ends for good; closing stop requests
	// shutdown. The gateway owns reconnection until stop is closed.
	StreamOrderUpdates(ctx context.Context, handler OrderUpdateHandler, errHandler func(error)) (done chan struct{}, stop chan struct{}, err error)
}
