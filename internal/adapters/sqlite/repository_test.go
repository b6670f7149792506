package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "signaltrader-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func sampleOrder(messageID int) *domain.ActiveOrder {
	return &domain.ActiveOrder{
		MessageID:       messageID,
		Symbol:          "BTCUSDT",
		Side:            domain.Buy,
		EntryPrice:      50000,
		Targets:         []float64{52000, 54000},
		PositionSide:    "BOTH",
		OrderID:         "123456",
		FundPercentage:  0.05,
		Leverage:        20,
		OriginalMessage: "$BTC Long Leverage: x20 Entry: 50000 Stop Loss: 49000 TP1: 52000 TP2: 54000",
	}
}

func TestRepository_SaveAndGetActiveOrder(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := sampleOrder(100)
	require.NoError(t, repo.Save(ctx, order))

	got, err := repo.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, order.Symbol, got.Symbol)
	assert.Equal(t, order.Side, got.Side)
	assert.Equal(t, order.EntryPrice, got.EntryPrice)
	assert.Equal(t, order.Targets, got.Targets)
	assert.Equal(t, order.PositionSide, got.PositionSide)
	assert.Equal(t, order.OrderID, got.OrderID)
	assert.Equal(t, order.Leverage, got.Leverage)
	assert.False(t, got.Filled)
	assert.Equal(t, order.OriginalMessage, got.OriginalMessage)

	// Missing id is nil, nil.
	got, err = repo.Get(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_SaveReplacesExisting(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	order := sampleOrder(101)
	require.NoError(t, repo.Save(ctx, order))

	order.EntryPrice = 51000
	order.Targets = []float64{53000}
	require.NoError(t, repo.Save(ctx, order))

	got, err := repo.Get(ctx, 101)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 51000.0, got.EntryPrice)
	assert.Equal(t, []float64{53000}, got.Targets)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_GetAllAndDelete(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleOrder(1)))
	second := sampleOrder(2)
	second.Symbol = "ETHUSDT"
	require.NoError(t, repo.Save(ctx, second))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTCUSDT", all[1].Symbol)
	assert.Equal(t, "ETHUSDT", all[2].Symbol)

	require.NoError(t, repo.Delete(ctx, 1))
	all, err = repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Deleting an absent id is not an error.
	require.NoError(t, repo.Delete(ctx, 42))
}

func TestRepository_SetFilled(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleOrder(5)))
	require.NoError(t, repo.SetFilled(ctx, 5))

	got, err := repo.Get(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Filled)

	err = repo.SetFilled(ctx, 999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func sampleTrade(createdAt time.Time) *domain.ClosedTrade {
	return &domain.ClosedTrade{
		Symbol:     "ETHUSDT",
		Side:       domain.Buy,
		EntryPrice: 3000,
		ExitPrice:  3100,
		Qty:        2.5,
		PnL:        250,
		Fee:        1.25,
		CreatedAt:  createdAt,
	}
}

func TestRepository_RecordTrade(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := sampleTrade(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	id, err := repo.RecordTrade(ctx, trade)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	trades, err := repo.FindRecent(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.Symbol, trades[0].Symbol)
	assert.Equal(t, trade.PnL, trades[0].PnL)
	assert.Equal(t, trade.Fee, trades[0].Fee)
	assert.Equal(t, trade.CreatedAt, trades[0].CreatedAt)
}

func TestRepository_RecordTradeDuplicateDeletes(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createdAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err := repo.RecordTrade(ctx, sampleTrade(createdAt))
	require.NoError(t, err)

	// The second identical insert removes the existing row instead of
	// inserting a twin: net count for the tuple goes to zero.
	_, err = repo.RecordTrade(ctx, sampleTrade(createdAt))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)

	trades, err := repo.FindRecent(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestRepository_RecordTradeRoundsBeforeCompare(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createdAt := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	first := sampleTrade(createdAt)
	first.PnL = 250.0000004
	_, err := repo.RecordTrade(ctx, first)
	require.NoError(t, err)

	// Differs only beyond the sixth decimal, so it is the same tuple.
	second := sampleTrade(createdAt)
	second.PnL = 249.9999996
	_, err = repo.RecordTrade(ctx, second)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)
}

func TestRepository_FindRecentAndTotalPnL(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		trade := sampleTrade(base.Add(time.Duration(i) * time.Hour))
		trade.PnL = float64(100 * (i + 1))
		if i == 2 {
			trade.Symbol = "BTCUSDT"
		}
		_, err := repo.RecordTrade(ctx, trade)
		require.NoError(t, err)
	}

	trades, err := repo.FindRecent(ctx, "ETHUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Most recent first.
	assert.Equal(t, 200.0, trades[0].PnL)

	all, err := repo.FindRecent(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	total, err := repo.TotalPnL(ctx)
	require.NoError(t, err)
	assert.Equal(t, 600.0, total)
}
