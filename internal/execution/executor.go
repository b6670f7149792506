package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signaltrader/internal/ports"
)

const (
	defaultPollInterval = 5 * time.Second
	// Wait after order submission before querying the resulting position,
	// the exchange needs a moment to reflect it.
	defaultSettleDelay = 1 * time.Second
)

// Executor coordinates order placement, the active-order registry, the
// per-order closure monitors, stop-loss mutation and cancellation. It owns
// one background monitor goroutine per tracked order.
type Executor struct {
	exchange ports.ExchangeClient
	orders   ports.ActiveOrderRepository
	trades   ports.TradeLogRepository
	notifier ports.Notifier
	logger   ports.Logger

	pollInterval time.Duration
	settleDelay  time.Duration

	mu       sync.Mutex // Protects monitors
	monitors map[int]context.CancelFunc
	wg       sync.WaitGroup
}

// NewExecutor creates the execution coordinator. A zero pollInterval falls
// back to the default.
func NewExecutor(
	exchange ports.ExchangeClient,
	orders ports.ActiveOrderRepository,
	trades ports.TradeLogRepository,
	notifier ports.Notifier,
	logger ports.Logger,
	pollInterval time.Duration,
) (*Executor, error) {
	if exchange == nil || orders == nil || trades == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Executor")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Executor{
		exchange:     exchange,
		orders:       orders,
		trades:       trades,
		notifier:     notifier,
		logger:       logger,
		pollInterval: pollInterval,
		settleDelay:  defaultSettleDelay,
		monitors:     make(map[int]context.CancelFunc),
	}, nil
}

// Recover respawns a closure monitor for every order already in the registry.
// Called once at startup so open exposures keep being tracked across
// restarts.
func (e *Executor) Recover(ctx context.Context) error {
	op := "recover"
	all, err := e.orders.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active orders: %w", err)
	}
	for messageID, order := range all {
		e.logger.Info(ctx, op+": resuming monitor for stored order", map[string]interface{}{
			"messageID": messageID,
			"symbol":    order.Symbol,
			"side":      order.Side,
		})
		e.StartMonitor(messageID, order.Symbol)
	}
	return nil
}

// StartMonitor spawns the background closure watcher for an order. A second
// call for the same message id is a no-op.
func (e *Executor) StartMonitor(messageID int, symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.monitors[messageID]; running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.monitors[messageID] = cancel
	e.wg.Add(1)
	go e.watch(ctx, symbol, messageID)
}

// StopMonitor cancels the watcher for an order, if one is running.
func (e *Executor) StopMonitor(messageID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.monitors[messageID]; ok {
		cancel()
		delete(e.monitors, messageID)
	}
}

// Shutdown stops every monitor and waits for them to exit.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	for messageID, cancel := range e.monitors {
		cancel()
		delete(e.monitors, messageID)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// removeMonitor clears the bookkeeping entry once a watcher exits on its own.
func (e *Executor) removeMonitor(messageID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.monitors[messageID]; ok {
		cancel()
		delete(e.monitors, messageID)
	}
}
