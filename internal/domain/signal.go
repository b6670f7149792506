package domain

import "time"

// TradeSignal is an inbound channel event: a new, edited, or reply message.
// Consumed once, never persisted.
type TradeSignal struct {
	MessageID int       // Source message id, keys the active-order registry
	ReplyToID int       // Id of the replied-to message (0 if not a reply)
	Text      string    // Raw alert text
	Time      time.Time // Delivery timestamp
}

// OrderIntent is the structured result of parsing a trade alert.
type OrderIntent struct {
	Symbol          string    // Settlement-pair form, e.g. "BTCUSDT"
	Side            OrderSide
	Leverage        int       // LeverageAuto means "decide by symbol class"
	FundPercentage  float64   // Fraction of account equity to commit
	EntryPrice      float64   // Meaningless when MarketEntry is set
	MarketEntry     bool      // "Entry NOW" market-order sentinel
	StopLoss        float64
	Targets         []float64 // Non-empty; index 0 is the first take-profit
	OriginalMessage string    // Kept to detect no-op edits
}

// StopTarget selects which value a stop-loss move resolves to.
type StopTarget int

const (
	StopToValue StopTarget = iota // Explicit price from the reply text
	StopToEntry                   // Stored entry price (live price for market entries)
	StopToTP1
	StopToTP2
)

// ReplyCommand is a parsed reply-message instruction against an existing
// active order: a stop-loss move, a DCA limit order, or both.
type ReplyCommand struct {
	StopMove bool
	Target   StopTarget
	Value    float64 // Set when Target == StopToValue

	DCA      bool
	DCAPrice float64
}
