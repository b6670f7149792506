package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signaltrader/internal/domain"
)

// Instrument carries the trading rules for a listed futures contract.
type Instrument struct {
	Symbol      string          // Contract symbol as listed on the exchange
	LotStep     decimal.Decimal // Quantity step size; all order quantities must be a multiple
	MaxQty      decimal.Decimal // Maximum order quantity
	MaxLeverage int             // Highest leverage the exchange permits for this symbol
}

// OrderResult represents the essential details returned after placing an order.
type OrderResult struct {
	OrderID       int64     // Exchange's order ID
	Symbol        string    // Symbol for the order
	ClientOrderID string    // User-defined order ID
	Price         float64   // Price of the order (might be 0 for market orders initially)
	AvgPrice      float64   // Average filled price
	OrigQuantity  float64   // Original quantity requested
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED, CANCELED)
	Type          string    // Order type (e.g., MARKET, LIMIT, STOP_MARKET)
	Side          string    // Order side (BUY, SELL)
	Timestamp     time.Time // Time the order response was generated
}

// Position describes an open position on the exchange.
type Position struct {
	Symbol       string
	Side         domain.OrderSide // Side that opened the position
	PositionSide string           // Hedge-slot identifier (LONG/SHORT/BOTH)
	Size         float64          // Absolute position size; 0 means flat
	EntryPrice   float64          // Average entry price
	Leverage     int
}

// ClosedPnL is the realized result of the most recently closed position,
// reconstructed from the account trade history.
type ClosedPnL struct {
	Symbol     string
	Side       domain.OrderSide // Side of the closed position, not of the closing fill
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	Fee        float64
	CreatedAt  time.Time
}

// EntryOrder bundles the parameters for an entry with its protective bracket.
type EntryOrder struct {
	Symbol        string
	Side          domain.OrderSide
	Market        bool    // Market entry; Price is ignored when set
	Price         float64 // Limit price
	Quantity      string  // Already quantized to the instrument's lot step
	TakeProfit    float64 // 0 disables the take-profit leg
	StopLoss      float64 // 0 disables the stop-loss leg
	ClientOrderID string
}

// ExchangeClient defines the interface for interacting with a derivatives exchange.
// This abstraction allows decoupling the core bot logic from specific exchange implementations.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetInstrument retrieves the trading rules for a symbol.
	// Returns ErrInvalidSymbol if the symbol is not listed.
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)

	// GetTickerPrice retrieves the last ticker price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetAccountBalance retrieves the available balance for a specific asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (float64, error)

	// SetLeverage sets the leverage for a specific symbol.
	// Returns ErrLeverageNotValid if the exchange rejects the value.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// PlaceEntryOrder places the entry order together with its take-profit and
	// stop-loss legs. If a protective leg cannot be placed the entry is
	// cancelled on a best-effort basis and the error returned.
	PlaceEntryOrder(ctx context.Context, order EntryOrder) (*OrderResult, error)

	// PlaceLimitOrder places a plain limit order without protective legs.
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, price float64) (*OrderResult, error)

	// GetPosition retrieves the position record for a symbol.
	// Returns nil, nil if the exchange has no record for the symbol; a record
	// with Size == 0 means the position existed and is now flat.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// SetPositionStopLoss replaces the position's stop-loss with a close-all
	// stop at the given price. Returns ErrStopUnchanged if a stop at that
	// price is already in place.
	SetPositionStopLoss(ctx context.Context, symbol string, positionSide domain.OrderSide, stopPrice float64) error

	// CancelAllOrders cancels every open order for the symbol and returns how
	// many were cancelled. Returns ErrNoOpenOrders if there were none.
	CancelAllOrders(ctx context.Context, symbol string) (int, error)

	// GetLastClosedPnL reconstructs the realized result of the most recently
	// closed position for the symbol from the account trade history.
	// Returns nil, nil if no closing fills are found.
	GetLastClosedPnL(ctx context.Context, symbol string) (*ClosedPnL, error)

	// CancelOrder cancels an existing open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error)
}
