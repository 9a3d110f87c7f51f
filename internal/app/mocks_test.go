package app

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// --- Logger ---

type mockLogger struct{}

func (m *mockLogger) Debug(context.Context, string, map[string]interface{})        {}
func (m *mockLogger) Info(context.Context, string, map[string]interface{})         {}
func (m *mockLogger) Warn(context.Context, string, map[string]interface{})         {}
func (m *mockLogger) Error(context.Context, error, string, map[string]interface{}) {}

// --- Exchange gateway ---

type placedOrder struct {
	Spec ports.OrderSpec
}

type mockGateway struct {
	mu sync.Mutex

	PlaceOrderFn        func(spec ports.OrderSpec) (*ports.OrderResult, error)
	CancelOrderFn       func(symbol, orderID string) error
	GetPositionsFn      func(symbol string) ([]ports.PositionView, error)
	GetOpenOrdersFn     func(symbol string) ([]ports.OrderView, error)
	SetLeverageFn       func(symbol string, leverage int) error
	SetStopLossFn       func(symbol string, side domain.Side, stop decimal.Decimal) error
	GetInstrumentStepFn func(symbol string) (decimal.Decimal, error)
	GetTickerPriceFn    func(symbol string) (decimal.Decimal, error)

	placed    []placedOrder
	cancelled []string
	stops     []decimal.Decimal
	nextID    int64
}

func newMockGateway() *mockGateway {
	return &mockGateway{nextID: 1000}
}

func (m *mockGateway) Placed() []placedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]placedOrder, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *mockGateway) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

func (m *mockGateway) Stops() []decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]decimal.Decimal, len(m.stops))
	copy(out, m.stops)
	return out
}

func (m *mockGateway) PlaceOrder(_ context.Context, spec ports.OrderSpec) (*ports.OrderResult, error) {
	m.mu.Lock()
	m.placed = append(m.placed, placedOrder{Spec: spec})
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	if m.PlaceOrderFn != nil {
		return m.PlaceOrderFn(spec)
	}
	return &ports.OrderResult{
		OrderID: strconv.FormatInt(id, 10),
		Status:  "NEW",
	}, nil
}

func (m *mockGateway) CancelOrder(_ context.Context, symbol, orderID string) error {
	m.mu.Lock()
	m.cancelled = append(m.cancelled, orderID)
	m.mu.Unlock()
	if m.CancelOrderFn != nil {
		return m.CancelOrderFn(symbol, orderID)
	}
	return nil
}

func (m *mockGateway) GetPositions(_ context.Context, symbol string) ([]ports.PositionView, error) {
	if m.GetPositionsFn != nil {
		return m.GetPositionsFn(symbol)
	}
	return nil, nil
}

func (m *mockGateway) GetOpenOrders(_ context.Context, symbol string) ([]ports.OrderView, error) {
	if m.GetOpenOrdersFn != nil {
		return m.GetOpenOrdersFn(symbol)
	}
	return nil, nil
}

func (m *mockGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if m.SetLeverageFn != nil {
		return m.SetLeverageFn(symbol, leverage)
	}
	return nil
}

func (m *mockGateway) SetStopLoss(_ context.Context, symbol string, side domain.Side, stop decimal.Decimal) error {
	m.mu.Lock()
	m.stops = append(m.stops, stop)
	m.mu.Unlock()
	if m.SetStopLossFn != nil {
		return m.SetStopLossFn(symbol, side, stop)
	}
	return nil
}

func (m *mockGateway) GetInstrumentStep(_ context.Context, symbol string) (decimal.Decimal, error) {
	if m.GetInstrumentStepFn != nil {
		return m.GetInstrumentStepFn(symbol)
	}
	return decimal.RequireFromString("0.001"), nil
}

func (m *mockGateway) GetTickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if m.GetTickerPriceFn != nil {
		return m.GetTickerPriceFn(symbol)
	}
	return decimal.Zero, nil
}

func (m *mockGateway) StreamOrderUpdates(_ context.Context, _ ports.OrderUpdateHandler, _ func(error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}), nil
}

// --- Trade repository (in-memory) ---

type memoryTradeRepo struct {
	mu     sync.Mutex
	nextID int64
	trades map[int64]*domain.Trade

	CreateErr error
	UpdateErr error
}

func newMemoryTradeRepo() *memoryTradeRepo {
	return &memoryTradeRepo{trades: make(map[int64]*domain.Trade)}
}

func cloneTrade(t *domain.Trade) *domain.Trade {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (m *memoryTradeRepo) Create(_ context.Context, trade *domain.Trade) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = m.nextID
	m.trades[trade.ID] = cloneTrade(trade)
	return nil
}

func (m *memoryTradeRepo) Update(_ context.Context, trade *domain.Trade) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[trade.ID]; !ok {
		return ports.ErrTradeNotFound
	}
	m.trades[trade.ID] = cloneTrade(trade)
	return nil
}

func (m *memoryTradeRepo) SetTakeProfitOrderID(_ context.Context, tradeID int64, leg int, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[tradeID]
	if !ok {
		return ports.ErrTradeNotFound
	}
	switch leg {
	case 1:
		if t.TP1OrderID == "" {
			t.TP1OrderID = orderID
		}
	case 2:
		if t.TP2OrderID == "" {
			t.TP2OrderID = orderID
		}
	case 3:
		if t.TP3OrderID == "" {
			t.TP3OrderID = orderID
		}
	default:
		return ports.ErrInvalidRequest
	}
	return nil
}

func (m *memoryTradeRepo) FindByID(_ context.Context, id int64) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTrade(m.trades[id]), nil
}

func (m *memoryTradeRepo) FindByOrderID(_ context.Context, orderID string) (*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.OwnsOrder(orderID) {
			return cloneTrade(t), nil
		}
	}
	return nil, nil
}

func (m *memoryTradeRepo) FindActive(_ context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if !t.Status.IsTerminal() {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}

func (m *memoryTradeRepo) FindOpenOlderThan(_ context.Context, cutoff time.Time) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if t.Status == domain.StatusOpen && t.CreatedAt.Before(cutoff) {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}

func (m *memoryTradeRepo) FindAll(_ context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if filter.BotName != "" && t.BotName != filter.BotName {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, cloneTrade(t))
	}
	return out, nil
}

// seed inserts a trade directly, bypassing Create's id assignment.
func (m *memoryTradeRepo) seed(trade *domain.Trade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if trade.ID == 0 {
		m.nextID++
		trade.ID = m.nextID
	} else if trade.ID > m.nextID {
		m.nextID = trade.ID
	}
	m.trades[trade.ID] = cloneTrade(trade)
}

func (m *memoryTradeRepo) get(id int64) *domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTrade(m.trades[id])
}

// --- Trade update log (in-memory) ---

type memoryUpdateRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*domain.TradeUpdate
}

func newMemoryUpdateRepo() *memoryUpdateRepo {
	return &memoryUpdateRepo{}
}

func (m *memoryUpdateRepo) Append(_ context.Context, update *domain.TradeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	update.ID = m.nextID
	c := *update
	m.entries = append(m.entries, &c)
	return nil
}

func (m *memoryUpdateRepo) FindByTradeID(_ context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TradeUpdate
	for _, u := range m.entries {
		if u.TradeID == tradeID {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}
