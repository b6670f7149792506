package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for a position opened with this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// LeverageAuto is the unresolved-leverage sentinel: the signal did not carry
// an explicit leverage, so the tier is decided by symbol class at execution
// time.
const LeverageAuto = 0
