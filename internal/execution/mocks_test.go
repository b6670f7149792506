package execution

import (
	"context"
	"sync"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockNotifier) Send(ctx context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
}

func (m *mockNotifier) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type limitOrder struct {
	symbol string
	side   domain.OrderSide
	qty    string
	price  float64
}

type mockExchange struct {
	mu sync.Mutex

	instruments map[string]*ports.Instrument
	ticker      float64
	balance     float64

	position    *ports.Position
	positionSeq []*ports.Position // popped per GetPosition call when non-empty

	leverageErrs []error // popped per SetLeverage call
	leverageSet  []int

	entryOrders []ports.EntryOrder
	entryErrs   []error // popped per PlaceEntryOrder call

	limitOrders []limitOrder
	limitErr    error

	stopLossSet []float64
	stopErr     error

	closedPnL    *ports.ClosedPnL
	closedPnLErr error

	cancelAllCount int
	cancelAllErr   error
	cancelled      []int64
	cancelErr      error
}

func (m *mockExchange) SetServerTime(ctx context.Context) error { return nil }
func (m *mockExchange) Ping(ctx context.Context) error          { return nil }

func (m *mockExchange) GetInstrument(ctx context.Context, symbol string) (*ports.Instrument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instruments[symbol]
	if !ok {
		return nil, ports.ErrInvalidSymbol
	}
	return inst, nil
}

func (m *mockExchange) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	return m.ticker, nil
}

func (m *mockExchange) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.leverageErrs) > 0 {
		err := m.leverageErrs[0]
		m.leverageErrs = m.leverageErrs[1:]
		if err != nil {
			return err
		}
	}
	m.leverageSet = append(m.leverageSet, leverage)
	return nil
}

func (m *mockExchange) PlaceEntryOrder(ctx context.Context, order ports.EntryOrder) (*ports.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entryErrs) > 0 {
		err := m.entryErrs[0]
		m.entryErrs = m.entryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.entryOrders = append(m.entryOrders, order)
	return &ports.OrderResult{
		OrderID:   int64(1000 + len(m.entryOrders)),
		Symbol:    order.Symbol,
		Status:    "NEW",
		Side:      string(order.Side),
		Timestamp: time.Now(),
	}, nil
}

func (m *mockExchange) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, price float64) (*ports.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limitErr != nil {
		return nil, m.limitErr
	}
	m.limitOrders = append(m.limitOrders, limitOrder{symbol: symbol, side: side, qty: quantity, price: price})
	return &ports.OrderResult{OrderID: int64(2000 + len(m.limitOrders)), Symbol: symbol}, nil
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*ports.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.positionSeq) > 0 {
		pos := m.positionSeq[0]
		m.positionSeq = m.positionSeq[1:]
		return pos, nil
	}
	return m.position, nil
}

func (m *mockExchange) SetPositionStopLoss(ctx context.Context, symbol string, positionSide domain.OrderSide, stopPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopLossSet = append(m.stopLossSet, stopPrice)
	return nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	if m.cancelAllErr != nil {
		return 0, m.cancelAllErr
	}
	return m.cancelAllCount, nil
}

func (m *mockExchange) GetLastClosedPnL(ctx context.Context, symbol string) (*ports.ClosedPnL, error) {
	return m.closedPnL, m.closedPnLErr
}

func (m *mockExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderID)
	return &ports.OrderResult{OrderID: orderID, Symbol: symbol, Status: "CANCELED"}, nil
}

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[int]*domain.ActiveOrder

	saveErr error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[int]*domain.ActiveOrder)}
}

func (m *mockOrderRepo) Save(ctx context.Context, order *domain.ActiveOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	clone := *order
	m.orders[order.MessageID] = &clone
	return nil
}

func (m *mockOrderRepo) Delete(ctx context.Context, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, messageID)
	return nil
}

func (m *mockOrderRepo) Get(ctx context.Context, messageID int) (*domain.ActiveOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[messageID], nil
}

func (m *mockOrderRepo) GetAll(ctx context.Context) (map[int]*domain.ActiveOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*domain.ActiveOrder, len(m.orders))
	for id, order := range m.orders {
		clone := *order
		out[id] = &clone
	}
	return out, nil
}

func (m *mockOrderRepo) SetFilled(ctx context.Context, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[messageID]; ok {
		order.Filled = true
	}
	return nil
}

func (m *mockOrderRepo) has(messageID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orders[messageID]
	return ok
}

type mockTradeRepo struct {
	mu        sync.Mutex
	trades    []*domain.ClosedTrade
	recordErr error
}

func (m *mockTradeRepo) RecordTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return 0, m.recordErr
	}
	clone := *trade
	m.trades = append(m.trades, &clone)
	return int64(len(m.trades)), nil
}

func (m *mockTradeRepo) FindRecent(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.ClosedTrade(nil), m.trades...), nil
}

func (m *mockTradeRepo) TotalPnL(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, trade := range m.trades {
		total += trade.PnL
	}
	return total, nil
}

func (m *mockTradeRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}
