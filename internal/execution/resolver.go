package execution

import (
	"context"
	"errors"
	"fmt"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// Some exchanges list rebased contracts for very low priced assets, e.g.
// 1000PEPEUSDT trading at a thousand times the spot price. When a ticker is
// not listed under its own name, each factor is prefixed onto the symbol in
// turn and prices rewritten to match.
var scalingFactors = []int{1000, 10000, 100000}

// resolveSymbol validates the intent's symbol against exchange metadata and
// returns the instrument rules. On an unlisted symbol it walks the scaling
// factors, and on the first listed variant rewrites the intent in place:
// symbol, entry price (unless market entry), stop loss and every target are
// multiplied by the factor. Returns ErrSymbolResolution when no variant is
// listed.
func (e *Executor) resolveSymbol(ctx context.Context, intent *domain.OrderIntent) (*ports.Instrument, error) {
	op := "resolveSymbol"

	inst, err := e.exchange.GetInstrument(ctx, intent.Symbol)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, ports.ErrInvalidSymbol) {
		return nil, fmt.Errorf("instrument lookup for %s failed: %w", intent.Symbol, err)
	}

	e.logger.Info(ctx, op+": symbol not listed, trying scaled variants", map[string]interface{}{"symbol": intent.Symbol})

	original := intent.Symbol
	for _, factor := range scalingFactors {
		scaled := fmt.Sprintf("%d%s", factor, original)
		inst, err := e.exchange.GetInstrument(ctx, scaled)
		if err != nil {
			if errors.Is(err, ports.ErrInvalidSymbol) {
				continue
			}
			return nil, fmt.Errorf("instrument lookup for %s failed: %w", scaled, err)
		}

		e.logger.Info(ctx, op+": resolved to scaled contract", map[string]interface{}{
			"symbol": scaled,
			"factor": factor,
		})
		applyScaling(intent, scaled, factor)
		return inst, nil
	}

	return nil, fmt.Errorf("%w: %s", ports.ErrSymbolResolution, original)
}

func applyScaling(intent *domain.OrderIntent, scaledSymbol string, factor int) {
	intent.Symbol = scaledSymbol
	f := float64(factor)
	if !intent.MarketEntry {
		intent.EntryPrice *= f
	}
	intent.StopLoss *= f
	for i := range intent.Targets {
		intent.Targets[i] *= f
	}
}
