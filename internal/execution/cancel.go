package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"signaltrader/internal/ports"
)

// Cancel bulk-cancels every open order for the symbol and removes the
// matching registry entries, stopping their monitors. An empty cancel (no
// open orders) is surfaced as a failure, not a silent success.
func (e *Executor) Cancel(ctx context.Context, symbol string) error {
	op := "cancel"

	count, err := e.exchange.CancelAllOrders(ctx, symbol)
	if err != nil {
		if errors.Is(err, ports.ErrNoOpenOrders) {
			e.logger.Warn(ctx, op+": nothing to cancel", map[string]interface{}{"symbol": symbol})
			e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s cancel failed*\nNo open orders for the symbol.", symbol))
			return err
		}
		e.logger.Error(ctx, err, op+": bulk cancel failed", map[string]interface{}{"symbol": symbol})
		e.notifier.Send(ctx, fmt.Sprintf("⚠️ *%s cancel failed*\n%s", symbol, err.Error()))
		return err
	}

	all, err := e.orders.GetAll(ctx)
	if err != nil {
		e.logger.Error(ctx, err, op+": failed to read registry after cancel", map[string]interface{}{"symbol": symbol})
		return err
	}
	for messageID, order := range all {
		if order.Symbol != symbol {
			continue
		}
		e.StopMonitor(messageID)
		if err := e.orders.Delete(ctx, messageID); err != nil {
			e.logger.Error(ctx, err, op+": failed to delete registry entry", map[string]interface{}{"messageID": messageID})
		}
	}

	e.logger.Info(ctx, op+": orders cancelled", map[string]interface{}{"symbol": symbol, "count": count})
	e.notifier.Send(ctx, fmt.Sprintf("📈 *Orders cancelled*\n🚀 *Symbol:* $%s", symbol))
	return nil
}

// CancelOrder cancels a single exchange order by id, used when an edited
// alert replaces an existing order. A missing order is tolerated, it may
// already be filled.
func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	op := "cancelOrder"

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed order id %q", ports.ErrInvalidRequest, orderID)
	}

	if _, err := e.exchange.CancelOrder(ctx, symbol, id); err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, op+": order not found, likely already filled", map[string]interface{}{"symbol": symbol, "orderID": orderID})
			return nil
		}
		e.logger.Error(ctx, err, op+": cancel failed", map[string]interface{}{"symbol": symbol, "orderID": orderID})
		return err
	}

	e.logger.Info(ctx, op+": order cancelled", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	e.notifier.Send(ctx, fmt.Sprintf("📈 *Order cancelled*\n🚀 *Symbol:* $%s", symbol))
	return nil
}
