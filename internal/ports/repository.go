package ports

import (
	"context"

	"signaltrader/internal/domain"
)

// ActiveOrderRepository defines the interface for the persistent registry of
// orders awaiting fill or closure.
type ActiveOrderRepository interface {
	// Save inserts or replaces the order keyed by its message id.
	Save(ctx context.Context, order *domain.ActiveOrder) error
	// Delete removes the order for the given message id. Deleting a missing
	// id is not an error.
	Delete(ctx context.Context, messageID int) error
	// Get retrieves the order for a message id. Returns nil, nil if absent.
	Get(ctx context.Context, messageID int) (*domain.ActiveOrder, error)
	// GetAll retrieves every tracked order keyed by message id.
	GetAll(ctx context.Context) (map[int]*domain.ActiveOrder, error)
	// SetFilled marks the order for the given message id as filled.
	SetFilled(ctx context.Context, messageID int) error
}

// TradeLogRepository defines the interface for the realized-trade journal.
type TradeLogRepository interface {
	// RecordTrade appends a closed trade and returns its assigned ID. If a
	// row with the same symbol, side, pnl, qty and timestamp already exists,
	// the existing row is deleted instead and ErrDuplicateEntry returned.
	RecordTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error)
	// FindRecent retrieves the most recent trades for a symbol, up to a
	// limit. An empty symbol matches all symbols.
	FindRecent(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error)
	// TotalPnL sums realized pnl across all recorded trades.
	TotalPnL(ctx context.Context) (float64, error)
}
