package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
	"autotrader/internal/locker"
	"autotrader/internal/ports"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	svc     *Service
	gateway *mockGateway
	trades  *memoryTradeRepo
	updates *memoryUpdateRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := newMockGateway()
	trades := newMemoryTradeRepo()
	updates := newMemoryUpdateRepo()
	svc, err := NewService(Config{
		Logger:      &mockLogger{},
		Gateway:     gw,
		Trades:      trades,
		Updates:     updates,
		Locker:      locker.New(),
		TP1Notional: d("150"),
		TP2Notional: d("90"),
	})
	require.NoError(t, err)
	return &testEnv{svc: svc, gateway: gw, trades: trades, updates: updates}
}

func testIntent() domain.OrderIntent {
	return domain.OrderIntent{
		Symbol:       "ETHUSDT",
		Side:         domain.Long,
		Execution:    domain.ExecMarket,
		EntryPrice:   d("100"),
		Notional:     d("300"),
		Leverage:     5,
		TP1Price:     d("105"),
		TP2Price:     d("110"),
		SLPrice:      d("95"),
		StrategyType: "breakout",
		BotName:      "bot-a",
	}
}

func seedTrade(env *testEnv, status domain.TradeStatus) *domain.Trade {
	trade := &domain.Trade{
		OrderID:      "entry-1",
		Symbol:       "ETHUSDT",
		Side:         domain.Long,
		EntryPrice:   d("100"),
		Quantity:     d("1"),
		PositionSize: d("100"),
		Leverage:     5,
		TP1Price:     d("105"),
		TP2Price:     d("110"),
		SLPrice:      d("95"),
		CurrentSL:    d("95"),
		CurrentTP:    d("105"),
		Status:       status,
	}
	env.trades.seed(trade)
	return trade
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestCreateTrade_MarketEntryFilled(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		if spec.Execution == domain.ExecMarket && !spec.ReduceOnly {
			return &ports.OrderResult{OrderID: "entry-1", Status: "FILLED", AvgPrice: d("100.5"), Filled: true}, nil
		}
		return &ports.OrderResult{OrderID: "tp-" + spec.Price.String(), Status: "NEW"}, nil
	}

	trade, err := env.svc.CreateTrade(context.Background(), testIntent())
	require.NoError(t, err)
	require.NotNil(t, trade)

	stored := env.trades.get(trade.ID)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusFilled, stored.Status)
	assert.True(t, d("100.5").Equal(stored.EntryPrice))
	assert.NotNil(t, trade.FilledAt)
	// 300 / 100 floored to 0.001 step
	assert.True(t, d("3").Equal(stored.Quantity), "got %s", stored.Quantity)
	// immediate fill arms the stop and the ladder
	require.Len(t, env.gateway.Stops(), 1)
	assert.True(t, d("95").Equal(env.gateway.Stops()[0]))
	assert.NotEmpty(t, stored.TP1OrderID)
	assert.NotEmpty(t, stored.TP2OrderID)
}

func TestCreateTrade_LimitEntryStaysOpen(t *testing.T) {
	env := newTestEnv(t)
	intent := testIntent()
	intent.Execution = domain.ExecLimit

	trade, err := env.svc.CreateTrade(context.Background(), intent)
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusOpen, stored.Status)
	assert.Nil(t, stored.FilledAt)
	assert.Empty(t, stored.TP1OrderID)
	assert.Empty(t, env.gateway.Stops())
}

func TestCreateTrade_RejectionPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		return nil, ports.ErrOrderPlacementFailed
	}

	_, err := env.svc.CreateTrade(context.Background(), testIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)

	all, _ := env.trades.FindAll(context.Background(), ports.TradeFilter{})
	assert.Empty(t, all)
}

func TestCreateTrade_FlattensExistingExposure(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("2"), EntryPrice: d("98"), Leverage: 5}}, nil
	}
	intent := testIntent()
	intent.Execution = domain.ExecLimit

	_, err := env.svc.CreateTrade(context.Background(), intent)
	require.NoError(t, err)

	placed := env.gateway.Placed()
	require.NotEmpty(t, placed)
	first := placed[0].Spec
	assert.True(t, first.ReduceOnly)
	assert.Equal(t, domain.Short, first.Side)
	assert.True(t, d("2").Equal(first.Quantity))
}

func TestCreateTrade_CancelsSameDirectionOrdersOnly(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.GetOpenOrdersFn = func(symbol string) ([]ports.OrderView, error) {
		return []ports.OrderView{
			{OrderID: "same-1", Symbol: symbol, Side: domain.Long},
			{OrderID: "other-1", Symbol: symbol, Side: domain.Short},
		}, nil
	}
	intent := testIntent()
	intent.Execution = domain.ExecLimit

	_, err := env.svc.CreateTrade(context.Background(), intent)
	require.NoError(t, err)

	cancelled := env.gateway.Cancelled()
	assert.Contains(t, cancelled, "same-1")
	assert.NotContains(t, cancelled, "other-1")
}

func TestCreateTrade_SkipsLeverageWhenUnchanged(t *testing.T) {
	env := newTestEnv(t)
	leverageCalls := 0
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Short, Quantity: d("1"), EntryPrice: d("98"), Leverage: 5}}, nil
	}
	env.gateway.SetLeverageFn = func(string, int) error {
		leverageCalls++
		return nil
	}
	intent := testIntent()
	intent.Execution = domain.ExecLimit

	_, err := env.svc.CreateTrade(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, 0, leverageCalls)
}

func TestCreateTrade_ConcurrentSameDirectionOneNetPosition(t *testing.T) {
	env := newTestEnv(t)

	// The gateway tracks net long exposure: entries add, reduce-only
	// flattens subtract. Both calls race for the same symbol+side.
	var mu sync.Mutex
	net := decimal.Zero
	orderSeq := 0

	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		mu.Lock()
		defer mu.Unlock()
		if net.IsZero() {
			return nil, nil
		}
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: net, EntryPrice: d("100"), Leverage: 5}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		mu.Lock()
		defer mu.Unlock()
		orderSeq++
		if spec.ReduceOnly {
			net = net.Sub(spec.Quantity)
			return &ports.OrderResult{OrderID: fmt.Sprintf("flatten-%d", orderSeq), Status: "FILLED", Filled: true}, nil
		}
		net = net.Add(spec.Quantity)
		return &ports.OrderResult{OrderID: fmt.Sprintf("entry-%d", orderSeq), Status: "NEW"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CreateTrade(context.Background(), testIntent())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// whichever call ran second flattened the first entry before placing
	// its own: never more than one position's worth of exposure
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, d("3").Equal(net), "net exposure %s, want one 3-unit position", net)
}

func TestPlaceTakeProfitLadder_LegFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		if spec.Price.Equal(d("105")) {
			return nil, ports.ErrOrderPlacementFailed
		}
		return &ports.OrderResult{OrderID: "tp2-1", Status: "NEW"}, nil
	}

	err := env.svc.PlaceTakeProfitLadder(context.Background(), trade)
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Empty(t, stored.TP1OrderID)
	assert.Equal(t, "tp2-1", stored.TP2OrderID)
}

func TestPlaceTakeProfitLadder_SkipsPlacedLegs(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	trade.TP1OrderID = "tp1-existing"
	env.trades.seed(trade)

	err := env.svc.PlaceTakeProfitLadder(context.Background(), trade)
	require.NoError(t, err)

	placed := env.gateway.Placed()
	require.Len(t, placed, 1)
	assert.True(t, placed[0].Spec.Price.Equal(d("110")))
}

func TestEvaluatePriceTrigger_TP1AdvancesAndRatchets(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)

	err := env.svc.EvaluatePriceTrigger(context.Background(), trade.ID, d("105.5"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusTP1Hit, stored.Status)
	assert.True(t, d("100").Equal(stored.CurrentSL), "stop should ratchet to entry, got %s", stored.CurrentSL)
	require.Len(t, env.gateway.Stops(), 1)
}

func TestEvaluatePriceTrigger_TP2AdvancesFromTP1(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusTP1Hit)
	trade.CurrentSL = d("100")
	env.trades.seed(trade)

	err := env.svc.EvaluatePriceTrigger(context.Background(), trade.ID, d("110"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusTP2Hit, stored.Status)
	assert.True(t, d("105").Equal(stored.CurrentSL), "stop should ratchet to tp1, got %s", stored.CurrentSL)
	assert.True(t, d("110").Equal(stored.CurrentTP))
}

func TestEvaluatePriceTrigger_StopClosesInFull(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("1"), EntryPrice: d("100"), Leverage: 5}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		return &ports.OrderResult{OrderID: "close-1", Status: "FILLED", AvgPrice: d("94"), Filled: true}, nil
	}

	err := env.svc.EvaluatePriceTrigger(context.Background(), trade.ID, d("94"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.True(t, stored.Quantity.IsZero())
	// (94 - 100) * 1 * 5
	assert.True(t, d("-30").Equal(stored.PnL), "got %s", stored.PnL)
}

func TestEvaluatePriceTrigger_TerminalIsNoop(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusClosed)

	err := env.svc.EvaluatePriceTrigger(context.Background(), trade.ID, d("50"))
	require.NoError(t, err)
	assert.Empty(t, env.gateway.Placed())
}

func TestClosePosition_FullCloseLongExample(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	trade.TP1OrderID = "tp1-1"
	trade.TP2OrderID = "tp2-1"
	env.trades.seed(trade)

	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("1"), EntryPrice: d("100"), Leverage: 5}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		return &ports.OrderResult{OrderID: "close-1", Status: "FILLED", AvgPrice: d("110"), Filled: true}, nil
	}

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("110"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.NotNil(t, stored.ClosedAt)
	assert.True(t, stored.Quantity.IsZero())
	// (110 - 100) * 1 * 5 = 50, 50% of the 100 position size
	assert.True(t, d("50").Equal(stored.PnL), "got %s", stored.PnL)
	assert.True(t, d("50").Equal(stored.PnLPercent), "got %s", stored.PnLPercent)
	// resting ladder legs cancelled on close
	assert.Contains(t, env.gateway.Cancelled(), "tp1-1")
	assert.Contains(t, env.gateway.Cancelled(), "tp2-1")
}

func TestClosePosition_FullCloseShortExample(t *testing.T) {
	env := newTestEnv(t)
	trade := &domain.Trade{
		OrderID:      "entry-2",
		Symbol:       "BTCUSDT",
		Side:         domain.Short,
		EntryPrice:   d("2000"),
		Quantity:     d("0.5"),
		PositionSize: d("1000"),
		Leverage:     3,
		SLPrice:      d("2100"),
		CurrentSL:    d("2100"),
		Status:       domain.StatusFilled,
	}
	env.trades.seed(trade)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Short, Quantity: d("0.5"), EntryPrice: d("2000"), Leverage: 3}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		assert.Equal(t, domain.Long, spec.Side)
		assert.True(t, spec.ReduceOnly)
		return &ports.OrderResult{OrderID: "close-2", Status: "FILLED", AvgPrice: d("1900"), Filled: true}, nil
	}

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("1900"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	// (2000 - 1900) * 0.5 * 3 = 150
	assert.True(t, d("150").Equal(stored.PnL), "got %s", stored.PnL)
	assert.Equal(t, domain.StatusClosed, stored.Status)
}

func TestClosePosition_PartialKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("1"), EntryPrice: d("100"), Leverage: 5}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		return &ports.OrderResult{OrderID: "close-3", Status: "FILLED", AvgPrice: d("104"), Filled: true}, nil
	}

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("0.5"), d("104"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusFilled, stored.Status)
	assert.Nil(t, stored.ClosedAt)
	assert.True(t, d("0.5").Equal(stored.Quantity), "got %s", stored.Quantity)
	// (104 - 100) * 0.5 * 5 = 10
	assert.True(t, d("10").Equal(stored.PnL), "got %s", stored.PnL)
}

func TestClosePosition_ClampsToExchangeSize(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("0.4"), EntryPrice: d("100"), Leverage: 5}}, nil
	}
	var closeQty decimal.Decimal
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		closeQty = spec.Quantity
		return &ports.OrderResult{OrderID: "close-4", Status: "FILLED", AvgPrice: d("101"), Filled: true}, nil
	}

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("101"))
	require.NoError(t, err)
	assert.True(t, d("0.4").Equal(closeQty), "got %s", closeQty)
}

func TestClosePosition_AlreadyClosedIsSuccess(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.GetPositionsFn = func(symbol string) ([]ports.PositionView, error) {
		return []ports.PositionView{{Symbol: symbol, Side: domain.Long, Quantity: d("1"), EntryPrice: d("100"), Leverage: 5}}, nil
	}
	env.gateway.PlaceOrderFn = func(spec ports.OrderSpec) (*ports.OrderResult, error) {
		return nil, ports.ErrPositionAlreadyClosed
	}

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("100"))
	require.NoError(t, err)

	stored := env.trades.get(trade.ID)
	assert.Equal(t, domain.StatusClosed, stored.Status)
	assert.NotNil(t, stored.ClosedAt)
}

func TestClosePosition_FlatOnExchangeIsSuccess(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	// no GetPositionsFn override: no open position reported

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, env.trades.get(trade.ID).Status)
}

func TestClosePosition_InvalidPercentage(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)

	for _, pct := range []string{"0", "-0.5", "1.5"} {
		err := env.svc.ClosePosition(context.Background(), trade.ID, d(pct), d("100"))
		assert.ErrorIs(t, err, ports.ErrInvalidRequest, "pct=%s", pct)
	}
}

func TestClosePosition_UnfilledEntryRejected(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusOpen)

	err := env.svc.ClosePosition(context.Background(), trade.ID, d("1"), d("100"))
	assert.ErrorIs(t, err, ports.ErrInvalidTransition)
}

func TestUpdateStopLoss_ExchangeFirst(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)
	env.gateway.SetStopLossFn = func(string, domain.Side, decimal.Decimal) error {
		return errors.New("venue down")
	}

	err := env.svc.UpdateStopLoss(context.Background(), trade.ID, d("98"))
	require.Error(t, err)
	// nothing persisted when the exchange refused
	assert.True(t, d("95").Equal(env.trades.get(trade.ID).CurrentSL))
}

func TestUpdateStopLoss_RatchetRefusesRegression(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)

	err := env.svc.UpdateStopLoss(context.Background(), trade.ID, d("90"))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
	assert.Empty(t, env.gateway.Stops())
}

func TestUpdateStopLoss_Success(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusFilled)

	err := env.svc.UpdateStopLoss(context.Background(), trade.ID, d("98"))
	require.NoError(t, err)
	assert.True(t, d("98").Equal(env.trades.get(trade.ID).CurrentSL))
	require.Len(t, env.gateway.Stops(), 1)
}

func TestCancelOrder_CancelsOpenTrade(t *testing.T) {
	env := newTestEnv(t)
	trade := seedTrade(env, domain.StatusOpen)

	err := env.svc.CancelOrder(context.Background(), trade.Symbol, trade.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, env.trades.get(trade.ID).Status)
}

func TestGetTrade_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetTrade(context.Background(), 42)
	assert.ErrorIs(t, err, ports.ErrTradeNotFound)
}
