package execution

import (
	"context"
	"errors"
	"fmt"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// MoveStopLoss applies a stop-loss move command against the position behind
// an active order. Move-to-entry uses the stored entry price, or the live
// market price when the order entered at market. Move-to-TP1/TP2 fail
// explicitly when the order has no target at that index. An exchange report
// that the stop is already at the requested value is a benign no-op.
func (e *Executor) MoveStopLoss(ctx context.Context, order *domain.ActiveOrder, cmd *domain.ReplyCommand) error {
	op := "moveStopLoss"

	value, err := e.resolveStopValue(ctx, order, cmd)
	if err != nil {
		e.logger.Error(ctx, err, op+": could not resolve stop value", map[string]interface{}{"symbol": order.Symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s stop-loss move failed*\n%s", order.Symbol, err.Error()))
		return err
	}

	err = e.exchange.SetPositionStopLoss(ctx, order.Symbol, order.Side, value)
	if err != nil {
		if errors.Is(err, ports.ErrStopUnchanged) {
			e.logger.Info(ctx, op+": stop already at requested value", map[string]interface{}{"symbol": order.Symbol, "stop": value})
			e.notifier.Send(ctx, fmt.Sprintf("ℹ️ *%s*: stop loss already at `%g`.", order.Symbol, value))
			return nil
		}
		e.logger.Error(ctx, err, op+": stop update rejected", map[string]interface{}{"symbol": order.Symbol, "stop": value})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s stop-loss move failed*\n%s", order.Symbol, err.Error()))
		return err
	}

	e.logger.Info(ctx, op+": stop loss moved", map[string]interface{}{"symbol": order.Symbol, "stop": value})
	e.notifier.Send(ctx, fmt.Sprintf("✅ *%s* stop loss moved\nNew SL: `%g`", order.Symbol, value))
	return nil
}

func (e *Executor) resolveStopValue(ctx context.Context, order *domain.ActiveOrder, cmd *domain.ReplyCommand) (float64, error) {
	switch cmd.Target {
	case domain.StopToValue:
		return cmd.Value, nil
	case domain.StopToEntry:
		if order.MarketEntry {
			last, err := e.exchange.GetTickerPrice(ctx, order.Symbol)
			if err != nil {
				return 0, fmt.Errorf("failed to fetch live price for market entry: %w", err)
			}
			return last, nil
		}
		return order.EntryPrice, nil
	case domain.StopToTP1:
		if len(order.Targets) < 1 {
			return 0, fmt.Errorf("order has no TP1 target")
		}
		return order.Targets[0], nil
	case domain.StopToTP2:
		if len(order.Targets) < 2 {
			return 0, fmt.Errorf("order has no TP2 target")
		}
		return order.Targets[1], nil
	default:
		return 0, fmt.Errorf("unknown stop target %d", cmd.Target)
	}
}

// PlaceDCAOrder submits an additional same-side limit order at dcaPrice,
// sized with the original order's fund percentage and leverage. The registry
// entry for the original order is left untouched.
func (e *Executor) PlaceDCAOrder(ctx context.Context, order *domain.ActiveOrder, dcaPrice float64) error {
	op := "placeDCAOrder"

	inst, err := e.exchange.GetInstrument(ctx, order.Symbol)
	if err != nil {
		e.logger.Error(ctx, err, op+": instrument lookup failed", map[string]interface{}{"symbol": order.Symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s DCA order failed*\n%s", order.Symbol, err.Error()))
		return err
	}

	equity, err := e.exchange.GetAccountBalance(ctx, settlementCurrency)
	if err != nil {
		e.logger.Error(ctx, err, op+": balance lookup failed", map[string]interface{}{"symbol": order.Symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s DCA order failed*\n%s", order.Symbol, err.Error()))
		return err
	}

	qty, clamped, err := ComputeQty(equity, order.FundPercentage, order.Leverage, dcaPrice, inst)
	if err != nil {
		e.logger.Error(ctx, err, op+": quantity computation failed", map[string]interface{}{"symbol": order.Symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s DCA order failed*\n%s", order.Symbol, err.Error()))
		return err
	}
	if clamped {
		e.notifier.Send(ctx, fmt.Sprintf("ℹ️ *%s*: DCA size clamped to the exchange maximum (%s).", order.Symbol, qty))
	}

	result, err := e.exchange.PlaceLimitOrder(ctx, order.Symbol, order.Side, qty, dcaPrice)
	if err != nil {
		e.logger.Error(ctx, err, op+": limit order rejected", map[string]interface{}{"symbol": order.Symbol, "price": dcaPrice})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s DCA order failed*\n%s", order.Symbol, err.Error()))
		return err
	}

	e.logger.Info(ctx, op+": DCA limit order placed", map[string]interface{}{
		"symbol":  order.Symbol,
		"price":   dcaPrice,
		"qty":     qty,
		"orderID": result.OrderID,
	})
	e.notifier.Send(ctx, fmt.Sprintf("✅ *%s* DCA limit order placed\n🎯 Price: `%g` | 💰 Qty: `%s`", order.Symbol, dcaPrice, qty))
	return nil
}
