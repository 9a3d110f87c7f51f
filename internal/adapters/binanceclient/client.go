package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance invalidates listen keys after 60 minutes without a keepalive.
	listenKeyKeepalive = 30 * time.Minute
)

// Client implements ports.ExchangeGateway on the go-binance futures API.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int

	stepMu    sync.Mutex
	stepCache map[string]decimal.Decimal
}

// Config holds configuration specific to the Binance gateway adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance gateway adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("API key and secret are required for Binance client")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// The WebSocket endpoints read the package-level testnet flag; the REST
	// client takes an explicit base URL.
	futures.UseTestnet = cfg.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		stepCache:            make(map[string]decimal.Decimal),
	}, nil
}

// handleError translates Binance API errors into the ports taxonomy.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1111, -1115, -1116, -1117, -1121, -4003, -4014, -4015: // Parameter/format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005: // Margin/balance insufficient
			mappedErr = ports.ErrInsufficientBalance
		case -2022: // ReduceOnly rejected: nothing left to reduce
			mappedErr = ports.ErrPositionAlreadyClosed
		default:
			mappedErr = ports.ErrExchangeUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Non-API errors: network failures, context cancellation, parse errors.
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s canceled: %w", operation, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// PlaceOrder submits an order per spec and returns the acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, spec ports.OrderSpec) (*ports.OrderResult, error) {
	op := "PlaceOrder"

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(toBinanceSide(spec.Side)).
		Quantity(spec.Quantity.String()).
		NewClientOrderID("x-" + uuid.NewString())

	switch spec.Execution {
	case domain.ExecLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(spec.Price.String()).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if spec.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	order, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	result, err := translateOrderResult(order)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": spec.Symbol, "side": spec.Side, "quantity": spec.Quantity.String(),
		"orderID": result.OrderID, "status": result.Status,
	})
	return result, nil
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: malformed order id '%s': %w", op, orderID, ports.ErrInvalidRequest)
	}

	_, err = c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

// GetPositions returns the symbol's open positions. Zero-quantity entries
// are filtered out.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]ports.PositionView, error) {
	op := "GetPositions"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	views := make([]ports.PositionView, 0, len(positions))
	for _, pos := range positions {
		amt, err := decimal.NewFromString(pos.PositionAmt)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", pos.PositionAmt, err), op)
		}
		if amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(pos.EntryPrice)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("could not parse entry price '%s': %w", pos.EntryPrice, err), op)
		}
		leverage, _ := strconv.Atoi(pos.Leverage)

		side := domain.Long
		if amt.IsNegative() {
			side = domain.Short
		}
		views = append(views, ports.PositionView{
			Symbol:     pos.Symbol,
			Side:       side,
			Quantity:   amt.Abs(),
			EntryPrice: entry,
			Leverage:   leverage,
		})
	}
	return views, nil
}

// GetOpenOrders returns all resting orders for the symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OrderView, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	views := make([]ports.OrderView, 0, len(orders))
	for _, o := range orders {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		views = append(views, ports.OrderView{
			OrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:  o.Symbol,
			Side:    fromBinanceSide(o.Side),
			Price:   price,
			Qty:     qty,
		})
	}
	return views, nil
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// SetStopLoss replaces the position stop with a close-position stop-market
// order at stopPrice. Any previous close-position stop is cancelled first.
func (c *Client) SetStopLoss(ctx context.Context, symbol string, side domain.Side, stopPrice decimal.Decimal) error {
	op := "SetStopLoss"

	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	for _, o := range open {
		if o.Type != futures.OrderTypeStopMarket || !o.ClosePosition {
			continue
		}
		if _, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx); err != nil {
			// The old stop may have just triggered; a missing order is fine.
			mapped := c.handleError(ctx, err, op+" cancel previous stop")
			if !errors.Is(mapped, ports.ErrOrderNotFound) {
				return mapped
			}
		}
	}

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(toBinanceSide(side.Opposite())).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stopPrice.String()).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "stopPrice": stopPrice.String()})
	return nil
}

// GetInstrumentStep returns the symbol's minimum quantity increment, cached
// after the first lookup.
func (c *Client) GetInstrumentStep(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetInstrumentStep"

	c.stepMu.Lock()
	if step, ok := c.stepCache[symbol]; ok {
		c.stepMu.Unlock()
		return step, nil
	}
	c.stepMu.Unlock()

	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lotSize := s.LotSizeFilter()
		if lotSize == nil {
			break
		}
		step, err := decimal.NewFromString(lotSize.StepSize)
		if err != nil {
			return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", lotSize.StepSize, err), op)
		}
		c.stepMu.Lock()
		c.stepCache[symbol] = step
		c.stepMu.Unlock()
		return step, nil
	}

	return decimal.Zero, c.handleError(ctx, fmt.Errorf("no lot size filter for symbol %s", symbol), op)
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s", symbol), op)
	}

	price, err := decimal.NewFromString(tickers[0].Price)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", tickers[0].Price, err), op)
	}
	return price, nil
}

// StreamOrderUpdates subscribes to the account's private order events via
// the user-data stream. The adapter owns the listen key lifecycle and
// reconnects with exponential backoff until stop is closed.
func (c *Client) StreamOrderUpdates(ctx context.Context, handler ports.OrderUpdateHandler, errHandler func(error)) (chan struct{}, chan struct{}, error) {
	op := "StreamOrderUpdates"
	wsCtx, cancelWs := context.WithCancel(ctx)

	listenKey, err := c.futuresClient.NewStartUserStreamService().Do(ctx)
	if err != nil {
		cancelWs()
		return nil, nil, c.handleError(ctx, err, op+" start user stream")
	}

	// Keepalive loop holds the listen key open.
	go func() {
		ticker := time.NewTicker(listenKeyKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-wsCtx.Done():
				return
			case <-ticker.C:
				if err := c.futuresClient.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(wsCtx); err != nil {
					c.handleError(wsCtx, err, op+" keepalive")
				}
			}
		}
	}()

	binanceHandler := func(event *futures.WsUserDataEvent) {
		if event == nil || event.Event != futures.UserDataEventTypeOrderTradeUpdate {
			return
		}
		update, err := translateOrderUpdate(&event.OrderTradeUpdate)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": failed to translate order update event", nil)
			return
		}
		handler(update)
	}

	binanceErrHandler := func(err error) {
		translatedErr := c.handleError(wsCtx, err, op+" WebSocket")
		errHandler(translatedErr)
	}

	// Reconnection loop
	go func() {
		defer cancelWs()

		attempt := 0
		for {
			select {
			case <-wsCtx.Done():
				return
			default:
				c.logger.Info(wsCtx, op+": Attempting WebSocket connection...", map[string]interface{}{"attempt": attempt + 1})
				innerDoneCh, innerStopCh, connectErr := futures.WsUserDataServe(listenKey, binanceHandler, binanceErrHandler)

				if connectErr != nil {
					c.handleError(wsCtx, connectErr, op+" connection attempt")
					attempt++
					if attempt >= c.maxReconnectAttempts {
						c.logger.Error(wsCtx, connectErr, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": c.maxReconnectAttempts})
						return
					}

					delay := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
					jitter := time.Duration(float64(delay) * 0.1)
					actualDelay := delay + jitter
					c.logger.Info(wsCtx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": actualDelay.String()})

					select {
					case <-time.After(actualDelay):
						continue
					case <-wsCtx.Done():
						return
					}
				}

				c.logger.Info(wsCtx, op+": WebSocket connection established.", nil)
				attempt = 0

				select {
				case <-innerDoneCh:
					c.logger.Warn(wsCtx, op+": WebSocket connection closed unexpectedly. Reconnecting...", nil)
				case <-wsCtx.Done():
					select {
					case innerStopCh <- struct{}{}:
					default:
					}
					return
				}
			}
		}
	}()

	doneCh := make(chan struct{})
	stopCh := make(chan struct{})

	go func() {
		select {
		case <-stopCh:
			c.logger.Info(ctx, op+": Received external stop signal, cancelling WebSocket context.", nil)
			cancelWs()
		case <-wsCtx.Done():
		}
	}()

	go func() {
		<-wsCtx.Done()
		if err := c.futuresClient.NewCloseUserStreamService().ListenKey(listenKey).Do(context.Background()); err != nil {
			c.handleError(context.Background(), err, op+" close user stream")
		}
		close(doneCh)
	}()

	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

func toBinanceSide(side domain.Side) futures.SideType {
	if side == domain.Short {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func fromBinanceSide(side futures.SideType) domain.Side {
	if side == futures.SideTypeSell {
		return domain.Short
	}
	return domain.Long
}

func translateOrderResult(order *futures.CreateOrderResponse) (*ports.OrderResult, error) {
	if order == nil {
		return nil, errors.New("received nil order response")
	}
	avgPrice := decimal.Zero
	if order.AvgPrice != "" {
		var err error
		avgPrice, err = decimal.NewFromString(order.AvgPrice)
		if err != nil {
			return nil, fmt.Errorf("parsing average price '%s': %w", order.AvgPrice, err)
		}
	}

	return &ports.OrderResult{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Status:   string(order.Status),
		AvgPrice: avgPrice,
		Filled:   order.Status == futures.OrderStatusTypeFilled,
	}, nil
}

func translateOrderUpdate(u *futures.WsOrderTradeUpdate) (ports.OrderUpdateEvent, error) {
	avgPrice := decimal.Zero
	if u.AveragePrice != "" {
		var err error
		avgPrice, err = decimal.NewFromString(u.AveragePrice)
		if err != nil {
			return ports.OrderUpdateEvent{}, fmt.Errorf("parsing average price '%s': %w", u.AveragePrice, err)
		}
	}
	qty := decimal.Zero
	if u.OriginalQty != "" {
		var err error
		qty, err = decimal.NewFromString(u.OriginalQty)
		if err != nil {
			return ports.OrderUpdateEvent{}, fmt.Errorf("parsing quantity '%s': %w", u.OriginalQty, err)
		}
	}

	trigger := ports.TriggerNone
	switch u.OriginalType {
	case futures.OrderTypeStopMarket, futures.OrderTypeStop:
		trigger = ports.TriggerStopLoss
	case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
		trigger = ports.TriggerTakeProfit
	}

	return ports.OrderUpdateEvent{
		OrderID:  strconv.FormatInt(u.ID, 10),
		Symbol:   u.Symbol,
		Side:     fromBinanceSide(u.Side),
		Status:   string(u.Status),
		Trigger:  trigger,
		AvgPrice: avgPrice,
		Quantity: qty,
	}, nil
}
