package domain

// ActiveOrder tracks a submitted order from acceptance until its position
// closes. Keyed by the originating message id; survives process restart.
//
// Invariants: the message id is unique, and at most one non-filled order may
// exist per (symbol, side) pair. The registry does not enforce the latter;
// callers check GetAll before creating a new order.
type ActiveOrder struct {
	MessageID       int
	Symbol          string
	Side            OrderSide
	EntryPrice      float64
	MarketEntry     bool
	Targets         []float64
	PositionSide    string // Exchange hedge-slot identifier; empty until a position opens
	OrderID         string // Exchange order id
	FundPercentage  float64
	Leverage        int
	Filled          bool
	OriginalMessage string
}
