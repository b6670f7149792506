package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// watch polls the position for an order until closure. The state machine is
// WaitingForFill -> Open -> Closed: closure is only declared after size has
// been observed above zero and then back at zero, so an order that never
// fills cannot produce a false closure. On closure the realized result is
// recorded, the registry entry deleted and a notification sent, then the
// watcher exits.
//
// Transient poll failures back off exponentially instead of hammering the
// exchange; a successful poll resets the delay.
func (e *Executor) watch(ctx context.Context, symbol string, messageID int) {
	defer e.wg.Done()
	defer e.removeMonitor(messageID)

	op := "watch"
	e.logger.Info(ctx, op+": monitoring position until closure", map[string]interface{}{
		"symbol":    symbol,
		"messageID": messageID,
	})

	retry := &backoff.Backoff{
		Min:    e.pollInterval,
		Max:    time.Minute,
		Factor: 2,
		Jitter: true,
	}

	open := false
	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, op+": monitor cancelled", map[string]interface{}{"symbol": symbol, "messageID": messageID})
			return
		case <-time.After(retry.Duration()):
		}

		pos, err := e.exchange.GetPosition(ctx, symbol)
		if err != nil {
			e.logger.Warn(ctx, op+": position poll failed, backing off", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		retry.Reset()

		size := 0.0
		if pos != nil {
			size = pos.Size
		}

		if !open {
			if size > 0 {
				open = true
				e.logger.Info(ctx, op+": position opened", map[string]interface{}{"symbol": symbol, "size": size})
			}
			continue
		}
		if size > 0 {
			continue
		}

		e.logger.Info(ctx, op+": position closed, recording result", map[string]interface{}{"symbol": symbol, "messageID": messageID})
		e.recordClosure(ctx, symbol, messageID)
		return
	}
}

// recordClosure fetches the realized result of the just-closed position,
// writes the trade record with the duplicate-delete rule applied, removes the
// registry entry and notifies.
func (e *Executor) recordClosure(ctx context.Context, symbol string, messageID int) {
	op := "recordClosure"

	closed, err := e.exchange.GetLastClosedPnL(ctx, symbol)
	if err != nil || closed == nil {
		if err == nil {
			err = fmt.Errorf("no realized-pnl record found for %s", symbol)
		}
		// The exposure is gone either way; stop tracking it.
		e.logger.Error(ctx, err, op+": closure detected but realized result unavailable", map[string]interface{}{"symbol": symbol})
		if delErr := e.orders.Delete(ctx, messageID); delErr != nil {
			e.logger.Error(ctx, delErr, op+": failed to delete active order", map[string]interface{}{"messageID": messageID})
		}
		return
	}

	trade := &domain.ClosedTrade{
		Symbol:     closed.Symbol,
		Side:       closed.Side,
		EntryPrice: closed.EntryPrice,
		ExitPrice:  closed.ExitPrice,
		Qty:        closed.Qty,
		PnL:        closed.PnL,
		Fee:        closed.Fee,
		CreatedAt:  closed.CreatedAt,
	}

	if _, err := e.trades.RecordTrade(ctx, trade); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			e.logger.Info(ctx, op+": identical trade already recorded, duplicate removed", map[string]interface{}{"symbol": symbol})
		} else {
			e.logger.Error(ctx, err, op+": failed to record closed trade", map[string]interface{}{"symbol": symbol})
		}
	}

	if err := e.orders.Delete(ctx, messageID); err != nil {
		e.logger.Error(ctx, err, op+": failed to delete active order", map[string]interface{}{"messageID": messageID})
	}

	e.notifier.Send(ctx, fmt.Sprintf("📊 *%s position closed*\n▪️ P&L: `%.2f` %s", symbol, trade.PnL, settlementCurrency))
}
