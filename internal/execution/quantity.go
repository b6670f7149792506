package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signaltrader/internal/ports"
)

// ComputeQty converts a fund fraction of account equity plus leverage into an
// exchange-compliant order size. The result is rounded to the nearest
// multiple of the instrument's lot step and rendered with exactly the step's
// decimal precision, since the exchange rejects quantities with stray digits.
// Quantities above the instrument maximum are clamped; the second return
// reports whether clamping happened.
func ComputeQty(equity, fundPercentage float64, leverage int, price float64, inst *ports.Instrument) (string, bool, error) {
	if price <= 0 {
		return "", false, fmt.Errorf("%w: price must be positive", ports.ErrInvalidRequest)
	}
	if inst.LotStep.IsZero() {
		return "", false, fmt.Errorf("%w: instrument %s has zero lot step", ports.ErrInvalidRequest, inst.Symbol)
	}

	notional := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(fundPercentage)).
		Mul(decimal.NewFromInt(int64(leverage)))
	rawQty := notional.Div(decimal.NewFromFloat(price))

	qty := rawQty.Div(inst.LotStep).Round(0).Mul(inst.LotStep)

	clamped := false
	if !inst.MaxQty.IsZero() && qty.GreaterThan(inst.MaxQty) {
		qty = inst.MaxQty.Div(inst.LotStep).Floor().Mul(inst.LotStep)
		clamped = true
	}

	if qty.LessThanOrEqual(decimal.Zero) {
		return "", false, fmt.Errorf("%w: computed quantity is zero for %s", ports.ErrInvalidRequest, inst.Symbol)
	}

	return qty.StringFixed(stepPrecision(inst.LotStep)), clamped, nil
}

// stepPrecision is the number of decimal digits in the lot step itself.
func stepPrecision(step decimal.Decimal) int32 {
	if step.Exponent() < 0 {
		return -step.Exponent()
	}
	return 0
}
