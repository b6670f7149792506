package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

func TestMonitorRecordsClosure(t *testing.T) {
	closedAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	exchange := &mockExchange{
		positionSeq: []*ports.Position{
			{Symbol: "ETHUSDT", Size: 0},   // waiting for fill
			{Symbol: "ETHUSDT", Size: 2.5}, // filled
			{Symbol: "ETHUSDT", Size: 0},   // closed
		},
		closedPnL: &ports.ClosedPnL{
			Symbol:     "ETHUSDT",
			Side:       domain.Buy,
			EntryPrice: 3000,
			ExitPrice:  3100,
			Qty:        2.5,
			PnL:        250,
			CreatedAt:  closedAt,
		},
	}
	exec, orders, trades, notifier := newTestExecutor(t, exchange)

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 11, Symbol: "ETHUSDT", Side: domain.Buy}))

	exec.StartMonitor(11, "ETHUSDT")

	require.Eventually(t, func() bool {
		return trades.count() == 1 && !orders.has(11)
	}, 2*time.Second, 10*time.Millisecond)

	trade := trades.trades[0]
	assert.Equal(t, "ETHUSDT", trade.Symbol)
	assert.Equal(t, domain.Buy, trade.Side)
	assert.Equal(t, 250.0, trade.PnL)
	assert.Equal(t, closedAt, trade.CreatedAt)

	require.Eventually(t, func() bool {
		return len(notifier.messages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, notifier.messages()[0], "position closed")

	// The watcher must have terminated and cleaned up after itself.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		_, running := exec.monitors[11]
		return !running
	}, time.Second, 10*time.Millisecond)
}

func TestMonitorIgnoresNeverFilledOrder(t *testing.T) {
	// Size stays at zero: the order never fills, so no closure may be
	// declared no matter how many polls happen.
	exchange := &mockExchange{position: &ports.Position{Symbol: "ETHUSDT", Size: 0}}
	exec, orders, trades, _ := newTestExecutor(t, exchange)

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 12, Symbol: "ETHUSDT", Side: domain.Buy}))

	exec.StartMonitor(12, "ETHUSDT")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, trades.count())
	assert.True(t, orders.has(12))
}

func TestMonitorDuplicateTradeDropped(t *testing.T) {
	exchange := &mockExchange{
		positionSeq: []*ports.Position{
			{Symbol: "ETHUSDT", Size: 1},
			{Symbol: "ETHUSDT", Size: 0},
		},
		closedPnL: &ports.ClosedPnL{Symbol: "ETHUSDT", Side: domain.Buy, PnL: 10, Qty: 1, CreatedAt: time.Now()},
	}
	exec, orders, trades, _ := newTestExecutor(t, exchange)
	trades.recordErr = ports.ErrDuplicateEntry

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 13, Symbol: "ETHUSDT", Side: domain.Buy}))

	exec.StartMonitor(13, "ETHUSDT")

	// The registry entry still goes away even though the trade was a
	// duplicate.
	require.Eventually(t, func() bool {
		return !orders.has(13)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, trades.count())
}

func TestMonitorMissingPnLRecord(t *testing.T) {
	exchange := &mockExchange{
		positionSeq: []*ports.Position{
			{Symbol: "ETHUSDT", Size: 1},
			{Symbol: "ETHUSDT", Size: 0},
		},
		closedPnL: nil,
	}
	exec, orders, trades, _ := newTestExecutor(t, exchange)

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 14, Symbol: "ETHUSDT", Side: domain.Buy}))

	exec.StartMonitor(14, "ETHUSDT")

	require.Eventually(t, func() bool {
		return !orders.has(14)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, trades.count())
}

func TestStopMonitorCancelsWatcher(t *testing.T) {
	exchange := &mockExchange{position: &ports.Position{Symbol: "ETHUSDT", Size: 0}}
	exec, _, _, _ := newTestExecutor(t, exchange)

	exec.StartMonitor(15, "ETHUSDT")
	exec.StopMonitor(15)

	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		_, running := exec.monitors[15]
		return !running
	}, time.Second, 10*time.Millisecond)
}

func TestRecoverRespawnsMonitors(t *testing.T) {
	exchange := &mockExchange{position: &ports.Position{Symbol: "ETHUSDT", Size: 0}}
	exec, orders, _, _ := newTestExecutor(t, exchange)

	ctx := context.Background()
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 21, Symbol: "ETHUSDT", Side: domain.Buy}))
	require.NoError(t, orders.Save(ctx, &domain.ActiveOrder{MessageID: 22, Symbol: "BTCUSDT", Side: domain.Sell}))

	require.NoError(t, exec.Recover(ctx))

	exec.mu.Lock()
	count := len(exec.monitors)
	exec.mu.Unlock()
	assert.Equal(t, 2, count)
}
