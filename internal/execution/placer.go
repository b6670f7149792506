package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// Fixed leverage tiers applied when a signal leaves leverage unresolved.
const (
	leverageTierMajor  = 100
	leverageTierMid    = 35
	leverageTierAlt    = 10
	settlementCurrency = "USDT"
)

func defaultLeverage(symbol string) int {
	switch symbol {
	case "BTCUSDT", "ETHUSDT":
		return leverageTierMajor
	case "SOLUSDT":
		return leverageTierMid
	default:
		return leverageTierAlt
	}
}

// Place runs the full order pipeline for a parsed intent: symbol resolution,
// leverage assignment, quantity normalization, leverage adjustment and order
// submission with protective legs. On success the order is persisted in the
// registry under messageID and a closure monitor spawned.
//
// Every distinct failure path emits exactly one notification; the returned
// error is for the caller's logging, not for retry.
func (e *Executor) Place(ctx context.Context, intent *domain.OrderIntent, messageID int) (*domain.ActiveOrder, error) {
	op := "place"
	original := intent.Symbol
	// Resolution may rewrite symbol and prices in place; keep the unscaled
	// intent so a later retry never applies a factor twice.
	pristine := cloneIntent(intent)

	inst, err := e.resolveSymbol(ctx, intent)
	if err != nil {
		e.logger.Error(ctx, err, op+": symbol resolution failed", map[string]interface{}{"symbol": original})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s order failed*\nNo listed contract found for the ticker.", original))
		return nil, err
	}

	result, qty, err := e.submit(ctx, intent, inst)
	if err != nil && errors.Is(err, ports.ErrInvalidSymbol) {
		// The exchange rejected the contract name at submission time even
		// though metadata resolved. Walk the scaled variants once more.
		result, qty, err = e.retryScaled(ctx, intent, pristine)
	}
	if err != nil {
		e.logger.Error(ctx, err, op+": order submission failed", map[string]interface{}{"symbol": intent.Symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s order failed*\n%s", intent.Symbol, reasonText(err)))
		return nil, err
	}

	order := &domain.ActiveOrder{
		MessageID:       messageID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		EntryPrice:      intent.EntryPrice,
		MarketEntry:     intent.MarketEntry,
		Targets:         intent.Targets,
		OrderID:         fmt.Sprintf("%d", result.OrderID),
		FundPercentage:  intent.FundPercentage,
		Leverage:        intent.Leverage,
		OriginalMessage: intent.OriginalMessage,
	}

	// The exchange needs a moment before the position reflects the order.
	// The hedge-slot identifier only exists once a position is open, so a
	// missing record here is not fatal for limit entries.
	time.Sleep(e.settleDelay)
	pos, posErr := e.exchange.GetPosition(ctx, intent.Symbol)
	if posErr != nil {
		e.logger.Warn(ctx, op+": could not query position after submission", map[string]interface{}{
			"symbol": intent.Symbol,
			"error":  posErr.Error(),
		})
	} else if pos != nil {
		order.PositionSide = pos.PositionSide
	}

	if err := e.orders.Save(ctx, order); err != nil {
		e.logger.Error(ctx, err, op+": failed to persist active order", map[string]interface{}{"messageID": messageID})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s order accepted but not tracked*\nRegistry write failed; manage it manually.", intent.Symbol))
		return nil, fmt.Errorf("failed to persist active order: %w", err)
	}

	e.StartMonitor(messageID, intent.Symbol)

	e.notifier.Send(ctx, summaryText(intent, qty))
	e.logger.Info(ctx, op+": order placed and tracked", map[string]interface{}{
		"messageID": messageID,
		"symbol":    intent.Symbol,
		"side":      intent.Side,
		"qty":       qty,
		"orderID":   order.OrderID,
	})
	return order, nil
}

// submit performs leverage assignment, quantity computation, leverage
// adjustment and the order submission itself for an already resolved symbol.
func (e *Executor) submit(ctx context.Context, intent *domain.OrderIntent, inst *ports.Instrument) (*ports.OrderResult, string, error) {
	op := "submit"

	if intent.Leverage == domain.LeverageAuto {
		intent.Leverage = defaultLeverage(intent.Symbol)
		e.logger.Info(ctx, op+": assigned leverage tier", map[string]interface{}{
			"symbol":   intent.Symbol,
			"leverage": intent.Leverage,
		})
	}

	price := intent.EntryPrice
	if intent.MarketEntry {
		last, err := e.exchange.GetTickerPrice(ctx, intent.Symbol)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch ticker price: %w", err)
		}
		price = last
	}

	equity, err := e.exchange.GetAccountBalance(ctx, settlementCurrency)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch account balance: %w", err)
	}

	qty, clamped, err := ComputeQty(equity, intent.FundPercentage, intent.Leverage, price, inst)
	if err != nil {
		return nil, "", err
	}
	if clamped {
		e.logger.Warn(ctx, op+": quantity clamped to instrument maximum", map[string]interface{}{
			"symbol": intent.Symbol,
			"qty":    qty,
		})
		e.notifier.Send(ctx, fmt.Sprintf("ℹ️ *%s*: order size clamped to the exchange maximum (%s).", intent.Symbol, qty))
	}

	if err := e.adjustLeverage(ctx, intent, inst); err != nil {
		return nil, "", err
	}
	// A clamp may have lowered the leverage, recompute the size with it.
	qty, _, err = ComputeQty(equity, intent.FundPercentage, intent.Leverage, price, inst)
	if err != nil {
		return nil, "", err
	}

	result, err := e.exchange.PlaceEntryOrder(ctx, ports.EntryOrder{
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Market:        intent.MarketEntry,
		Price:         intent.EntryPrice,
		Quantity:      qty,
		TakeProfit:    intent.Targets[0],
		StopLoss:      intent.StopLoss,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, "", err
	}
	return result, qty, nil
}

// adjustLeverage brings the exchange-side leverage in line with the intent.
// A rejection for exceeding the instrument maximum clamps the intent to that
// maximum and retries once.
func (e *Executor) adjustLeverage(ctx context.Context, intent *domain.OrderIntent, inst *ports.Instrument) error {
	op := "adjustLeverage"

	current := 0
	if pos, err := e.exchange.GetPosition(ctx, intent.Symbol); err == nil && pos != nil {
		current = pos.Leverage
	}
	if current == intent.Leverage {
		return nil
	}

	err := e.exchange.SetLeverage(ctx, intent.Symbol, intent.Leverage)
	if err == nil {
		e.logger.Info(ctx, op+": leverage set", map[string]interface{}{"symbol": intent.Symbol, "leverage": intent.Leverage})
		return nil
	}
	if !errors.Is(err, ports.ErrLeverageNotValid) || inst.MaxLeverage <= 0 {
		return fmt.Errorf("failed to set leverage to %dx: %w", intent.Leverage, err)
	}

	requested := intent.Leverage
	intent.Leverage = inst.MaxLeverage
	e.logger.Warn(ctx, op+": requested leverage above instrument maximum, clamping", map[string]interface{}{
		"symbol":    intent.Symbol,
		"requested": requested,
		"clamped":   intent.Leverage,
	})
	e.notifier.Send(ctx, fmt.Sprintf("ℹ️ *%s*: leverage x%d not allowed, using instrument maximum x%d.", intent.Symbol, requested, intent.Leverage))

	if err := e.exchange.SetLeverage(ctx, intent.Symbol, intent.Leverage); err != nil {
		return fmt.Errorf("failed to set clamped leverage %dx: %w", intent.Leverage, err)
	}
	return nil
}

// retryScaled reruns the submission against each scaled contract variant,
// stopping at the first success. Variants are built from the pristine
// pre-resolution intent so its prices carry exactly one scaling factor.
func (e *Executor) retryScaled(ctx context.Context, intent *domain.OrderIntent, pristine *domain.OrderIntent) (*ports.OrderResult, string, error) {
	op := "retryScaled"

	for _, factor := range scalingFactors {
		variant := cloneIntent(pristine)
		applyScaling(variant, fmt.Sprintf("%d%s", factor, pristine.Symbol), factor)

		inst, err := e.exchange.GetInstrument(ctx, variant.Symbol)
		if err != nil {
			if errors.Is(err, ports.ErrInvalidSymbol) {
				continue
			}
			return nil, "", err
		}

		e.logger.Info(ctx, op+": retrying with scaled contract", map[string]interface{}{"symbol": variant.Symbol})
		result, qty, err := e.submit(ctx, variant, inst)
		if err != nil {
			if errors.Is(err, ports.ErrInvalidSymbol) {
				continue
			}
			return nil, "", err
		}
		*intent = *variant
		return result, qty, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ports.ErrSymbolResolution, pristine.Symbol)
}

func cloneIntent(intent *domain.OrderIntent) *domain.OrderIntent {
	clone := *intent
	clone.Targets = append([]float64(nil), intent.Targets...)
	return &clone
}

func summaryText(intent *domain.OrderIntent, qty string) string {
	entry := "NOW"
	if !intent.MarketEntry {
		entry = fmt.Sprintf("%g", intent.EntryPrice)
	}
	targets := make([]string, len(intent.Targets))
	for i, tp := range intent.Targets {
		targets[i] = fmt.Sprintf("%g", tp)
	}
	return fmt.Sprintf(
		"📈 *Order accepted*\n\n"+
			"🚀 *Symbol:* $%s\n"+
			"📌 *Position:* %s\n"+
			"⚙️ *Leverage:* %dx\n"+
			"🎯 *Entry:* %s\n"+
			"💰 *Qty:* %s\n\n"+
			"🎯 *TP:* %s\n"+
			"🛑 *SL:* %g",
		intent.Symbol, intent.Side, intent.Leverage, entry, qty,
		strings.Join(targets, ", "), intent.StopLoss,
	)
}

func reasonText(err error) string {
	switch {
	case errors.Is(err, ports.ErrInsufficientFunds):
		return "Insufficient balance for the requested size."
	case errors.Is(err, ports.ErrSymbolResolution):
		return "No listed contract found for the ticker."
	default:
		return err.Error()
	}
}
