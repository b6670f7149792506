package domain

import "time"

// ClosedTrade is an append-only realized-result record, written once per
// position closure.
type ClosedTrade struct {
	ID         int64 // Assigned by the trade log
	Symbol     string
	Side       OrderSide
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	Fee        float64
	CreatedAt  time.Time
}
