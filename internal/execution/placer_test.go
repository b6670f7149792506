package execution

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

func newTestExecutor(t *testing.T, exchange *mockExchange) (*Executor, *mockOrderRepo, *mockTradeRepo, *mockNotifier) {
	t.Helper()
	orders := newMockOrderRepo()
	trades := &mockTradeRepo{}
	notifier := &mockNotifier{}
	exec, err := NewExecutor(exchange, orders, trades, notifier, nopLogger{}, 10*time.Millisecond)
	require.NoError(t, err)
	exec.settleDelay = 0
	t.Cleanup(exec.Shutdown)
	return exec, orders, trades, notifier
}

func btcInstrument() *ports.Instrument {
	return &ports.Instrument{
		Symbol:      "BTCUSDT",
		LotStep:     decimal.RequireFromString("0.001"),
		MaxQty:      decimal.RequireFromString("1000"),
		MaxLeverage: 125,
	}
}

func btcIntent() *domain.OrderIntent {
	return &domain.OrderIntent{
		Symbol:          "BTCUSDT",
		Side:            domain.Buy,
		Leverage:        20,
		FundPercentage:  0.05,
		EntryPrice:      50000,
		StopLoss:        49000,
		Targets:         []float64{52000, 54000},
		OriginalMessage: "$BTC Long Leverage: x20 Entry: 50000 Stop Loss: 49000 TP1: 52000 TP2: 54000",
	}
}

func TestPlaceSuccess(t *testing.T) {
	exchange := &mockExchange{
		instruments: map[string]*ports.Instrument{"BTCUSDT": btcInstrument()},
		balance:     1000,
		position:    &ports.Position{Symbol: "BTCUSDT", PositionSide: "BOTH", Leverage: 20},
	}
	exec, orders, _, notifier := newTestExecutor(t, exchange)

	order, err := exec.Place(context.Background(), btcIntent(), 42)
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, 42, order.MessageID)
	assert.Equal(t, "BTCUSDT", order.Symbol)
	assert.Equal(t, "BOTH", order.PositionSide)
	assert.False(t, order.Filled)
	assert.True(t, orders.has(42))

	require.Len(t, exchange.entryOrders, 1)
	placed := exchange.entryOrders[0]
	assert.Equal(t, "BTCUSDT", placed.Symbol)
	assert.Equal(t, domain.Buy, placed.Side)
	assert.False(t, placed.Market)
	assert.Equal(t, 52000.0, placed.TakeProfit)
	assert.Equal(t, 49000.0, placed.StopLoss)
	// 1000 * 0.05 * 20 / 50000 = 0.02
	assert.Equal(t, "0.020", placed.Quantity)

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Order accepted")

	exec.mu.Lock()
	_, monitoring := exec.monitors[42]
	exec.mu.Unlock()
	assert.True(t, monitoring)
}

func TestPlaceAutoLeverageTiers(t *testing.T) {
	tests := []struct {
		symbol string
		want   int
	}{
		{symbol: "BTCUSDT", want: 100},
		{symbol: "ETHUSDT", want: 100},
		{symbol: "SOLUSDT", want: 35},
		{symbol: "DOGEUSDT", want: 10},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			exchange := &mockExchange{
				instruments: map[string]*ports.Instrument{tt.symbol: {
					Symbol:      tt.symbol,
					LotStep:     decimal.RequireFromString("0.1"),
					MaxQty:      decimal.RequireFromString("100000"),
					MaxLeverage: 125,
				}},
				balance: 1000,
				ticker:  100,
			}
			exec, _, _, _ := newTestExecutor(t, exchange)

			intent := &domain.OrderIntent{
				Symbol:         tt.symbol,
				Side:           domain.Buy,
				Leverage:       domain.LeverageAuto,
				FundPercentage: 0.05,
				MarketEntry:    true,
				StopLoss:       90,
				Targets:        []float64{110},
			}
			_, err := exec.Place(context.Background(), intent, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, intent.Leverage)
			require.NotEmpty(t, exchange.leverageSet)
			assert.Equal(t, tt.want, exchange.leverageSet[len(exchange.leverageSet)-1])
		})
	}
}

func TestPlaceScalingFallback(t *testing.T) {
	scaled := &ports.Instrument{
		Symbol:      "1000PEPEUSDT",
		LotStep:     decimal.RequireFromString("100"),
		MaxQty:      decimal.RequireFromString("10000000"),
		MaxLeverage: 25,
	}
	exchange := &mockExchange{
		instruments: map[string]*ports.Instrument{"1000PEPEUSDT": scaled},
		balance:     1000,
	}
	exec, orders, _, _ := newTestExecutor(t, exchange)

	intent := &domain.OrderIntent{
		Symbol:         "PEPEUSDT",
		Side:           domain.Buy,
		Leverage:       10,
		FundPercentage: 0.05,
		EntryPrice:     0.00001,
		StopLoss:       0.000009,
		Targets:        []float64{0.000012, 0.000014},
	}
	_, err := exec.Place(context.Background(), intent, 7)
	require.NoError(t, err)

	assert.Equal(t, "1000PEPEUSDT", intent.Symbol)
	assert.InDelta(t, 0.01, intent.EntryPrice, 1e-12)
	assert.InDelta(t, 0.009, intent.StopLoss, 1e-12)
	assert.InDelta(t, 0.012, intent.Targets[0], 1e-12)
	assert.InDelta(t, 0.014, intent.Targets[1], 1e-12)

	require.Len(t, exchange.entryOrders, 1)
	assert.Equal(t, "1000PEPEUSDT", exchange.entryOrders[0].Symbol)
	assert.True(t, orders.has(7))
}

func TestPlaceScaledRejectionScalesPricesOnce(t *testing.T) {
	scaled := &ports.Instrument{
		Symbol:      "1000PEPEUSDT",
		LotStep:     decimal.RequireFromString("100"),
		MaxQty:      decimal.RequireFromString("10000000"),
		MaxLeverage: 25,
	}
	// Metadata resolves to the scaled contract, but the exchange still
	// rejects the first submission as an invalid instrument. The retry must
	// rebuild the order from the unscaled prices, not scale them again.
	exchange := &mockExchange{
		instruments: map[string]*ports.Instrument{"1000PEPEUSDT": scaled},
		balance:     1000,
		entryErrs:   []error{ports.ErrInvalidSymbol},
	}
	exec, orders, _, _ := newTestExecutor(t, exchange)

	intent := &domain.OrderIntent{
		Symbol:         "PEPEUSDT",
		Side:           domain.Buy,
		Leverage:       10,
		FundPercentage: 0.05,
		EntryPrice:     0.00001,
		StopLoss:       0.000009,
		Targets:        []float64{0.000012, 0.000014},
	}
	_, err := exec.Place(context.Background(), intent, 8)
	require.NoError(t, err)

	assert.Equal(t, "1000PEPEUSDT", intent.Symbol)
	assert.InDelta(t, 0.01, intent.EntryPrice, 1e-12)
	assert.InDelta(t, 0.009, intent.StopLoss, 1e-12)
	assert.InDelta(t, 0.012, intent.Targets[0], 1e-12)
	assert.InDelta(t, 0.014, intent.Targets[1], 1e-12)

	require.Len(t, exchange.entryOrders, 1)
	placed := exchange.entryOrders[0]
	assert.Equal(t, "1000PEPEUSDT", placed.Symbol)
	assert.InDelta(t, 0.01, placed.Price, 1e-12)
	assert.InDelta(t, 0.012, placed.TakeProfit, 1e-12)
	assert.InDelta(t, 0.009, placed.StopLoss, 1e-12)
	assert.True(t, orders.has(8))
}

func TestPlaceResolutionFailure(t *testing.T) {
	exchange := &mockExchange{instruments: map[string]*ports.Instrument{}, balance: 1000}
	exec, orders, _, notifier := newTestExecutor(t, exchange)

	_, err := exec.Place(context.Background(), btcIntent(), 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSymbolResolution)

	assert.Empty(t, exchange.entryOrders)
	assert.False(t, orders.has(9))

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "order failed")
}

func TestPlaceLeverageClamp(t *testing.T) {
	exchange := &mockExchange{
		instruments:  map[string]*ports.Instrument{"BTCUSDT": btcInstrument()},
		balance:      1000,
		leverageErrs: []error{ports.ErrLeverageNotValid},
	}
	exec, _, _, notifier := newTestExecutor(t, exchange)

	intent := btcIntent()
	intent.Leverage = 200
	_, err := exec.Place(context.Background(), intent, 3)
	require.NoError(t, err)

	assert.Equal(t, 125, intent.Leverage)
	require.Len(t, exchange.leverageSet, 1)
	assert.Equal(t, 125, exchange.leverageSet[0])

	// Quantity is recomputed at the clamped leverage:
	// 1000 * 0.05 * 125 / 50000 = 0.125
	require.Len(t, exchange.entryOrders, 1)
	assert.Equal(t, "0.125", exchange.entryOrders[0].Quantity)

	found := false
	for _, msg := range notifier.messages() {
		if strings.Contains(msg, "instrument maximum") {
			found = true
		}
	}
	assert.True(t, found, "expected a clamp notification")
}

func TestPlaceExchangeRejection(t *testing.T) {
	exchange := &mockExchange{
		instruments: map[string]*ports.Instrument{"BTCUSDT": btcInstrument()},
		balance:     1000,
		entryErrs:   []error{ports.ErrInsufficientFunds},
	}
	exec, orders, _, notifier := newTestExecutor(t, exchange)

	_, err := exec.Place(context.Background(), btcIntent(), 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.False(t, orders.has(5))

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Insufficient balance")
}

func TestCancelRemovesRegistryEntries(t *testing.T) {
	exchange := &mockExchange{
		instruments:    map[string]*ports.Instrument{"BTCUSDT": btcInstrument()},
		balance:        1000,
		cancelAllCount: 2,
	}
	exec, orders, _, notifier := newTestExecutor(t, exchange)

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 1, Symbol: "BTCUSDT", Side: domain.Buy}))
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 2, Symbol: "ETHUSDT", Side: domain.Buy}))

	require.NoError(t, exec.Cancel(ctx, "BTCUSDT"))

	assert.False(t, orders.has(1))
	assert.True(t, orders.has(2))

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Orders cancelled")
}

func TestCancelNoOpenOrders(t *testing.T) {
	exchange := &mockExchange{cancelAllErr: ports.ErrNoOpenOrders}
	exec, _, _, notifier := newTestExecutor(t, exchange)

	err := exec.Cancel(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNoOpenOrders)

	msgs := notifier.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "cancel failed")
}
