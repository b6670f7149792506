package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"
)

// SignalParser extracts trading intents from raw channel text.
type SignalParser interface {
	// Parse extracts an order intent. Returns nil when the text is not a
	// recognizable signal; the parser logs the reason.
	Parse(text string) *domain.OrderIntent
	// ParseCancel extracts the symbol from a cancellation message, or "".
	ParseCancel(text string) string
	// ParseReply extracts a stop-move or DCA command from a reply, or nil.
	ParseReply(text string) *domain.ReplyCommand
}

// OrderExecutor performs order placement and lifecycle management.
type OrderExecutor interface {
	Place(ctx context.Context, intent *domain.OrderIntent, messageID int) (*domain.ActiveOrder, error)
	Cancel(ctx context.Context, symbol string) error
	CancelOrder(ctx context.Context, symbol, orderID string) error
	MoveStopLoss(ctx context.Context, order *domain.ActiveOrder, cmd *domain.ReplyCommand) error
	PlaceDCAOrder(ctx context.Context, order *domain.ActiveOrder, dcaPrice float64) error
	StartMonitor(messageID int, symbol string)
	StopMonitor(messageID int)
	Recover(ctx context.Context) error
	Shutdown()
}

// ListenFunc blocks consuming inbound events until its context is cancelled.
type ListenFunc func(ctx context.Context) error

// Service routes channel events to the signal parser and order executor. It
// is the application-level message handler: one instance serves all inbound
// messages concurrently.
type Service struct {
	parser   SignalParser
	executor OrderExecutor
	exchange ports.ExchangeClient
	orders   ports.ActiveOrderRepository
	notifier ports.Notifier
	logger   ports.Logger
}

// NewService creates a new application service instance.
func NewService(
	parser SignalParser,
	executor OrderExecutor,
	exchange ports.ExchangeClient,
	orders ports.ActiveOrderRepository,
	notifier ports.Notifier,
	logger ports.Logger,
) (*Service, error) {
	if parser == nil || executor == nil || exchange == nil || orders == nil || notifier == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	return &Service{
		parser:   parser,
		executor: executor,
		exchange: exchange,
		orders:   orders,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Run performs startup checks, resumes monitors for stored orders and then
// blocks on the listener until a shutdown signal arrives.
func (s *Service) Run(ctx context.Context, listen ListenFunc) error {
	s.logger.Info(ctx, "Starting signal trading service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 1. Synchronize server time (required for signed API calls)
	if err := s.exchange.SetServerTime(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	s.logger.Info(ctx, "Server time synchronized")

	// 2. Verify connectivity
	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange ping failed")
		return fmt.Errorf("exchange unreachable: %w", err)
	}

	// 3. Resume closure monitors for orders persisted before the restart
	if err := s.executor.Recover(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to recover stored orders")
		return fmt.Errorf("failed to recover stored orders: %w", err)
	}

	// 4. Block on the inbound message stream
	err := listen(ctx)

	s.logger.Info(ctx, "Stopping monitors...")
	s.executor.Shutdown()
	s.logger.Info(ctx, "Service stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// HandleNewMessage processes a fresh channel post: either a cancellation
// command or a new trading signal. Unparseable text is dropped silently, the
// parser already logged why.
func (s *Service) HandleNewMessage(ctx context.Context, messageID int, text string) {
	op := "handleNewMessage"

	if symbol := s.parser.ParseCancel(text); symbol != "" {
		s.logger.Info(ctx, op+": cancellation command", map[string]interface{}{"messageID": messageID, "symbol": symbol})
		if err := s.executor.Cancel(ctx, symbol); err != nil {
			s.logger.Error(ctx, err, op+": cancellation failed", map[string]interface{}{"symbol": symbol})
		}
		return
	}

	intent := s.parser.Parse(text)
	if intent == nil {
		return
	}

	if s.hasOpenOrder(ctx, intent.Symbol, intent.Side) {
		s.logger.Warn(ctx, op+": duplicate signal rejected", map[string]interface{}{
			"messageID": messageID,
			"symbol":    intent.Symbol,
			"side":      intent.Side,
		})
		s.notifier.Send(ctx, fmt.Sprintf("⚠️ Signal ignored: an active %s order for %s already exists.", intent.Side, intent.Symbol))
		return
	}

	if _, err := s.executor.Place(ctx, intent, messageID); err != nil {
		s.logger.Error(ctx, err, op+": order placement failed", map[string]interface{}{"messageID": messageID, "symbol": intent.Symbol})
	}
}

// HandleEditedMessage processes an edit of an earlier post. An edit that
// changed nothing is a no-op; otherwise the original order is withdrawn and
// the new text executed under the same message id.
func (s *Service) HandleEditedMessage(ctx context.Context, messageID int, text string) {
	op := "handleEditedMessage"

	existing, err := s.orders.Get(ctx, messageID)
	if err != nil {
		s.logger.Error(ctx, err, op+": registry lookup failed", map[string]interface{}{"messageID": messageID})
		s.notifier.Send(ctx, "❌ Could not process edited signal: order registry unavailable.")
		return
	}

	if existing != nil {
		if existing.OriginalMessage == text {
			s.logger.Debug(ctx, op+": edit changed nothing", map[string]interface{}{"messageID": messageID})
			return
		}

		s.logger.Info(ctx, op+": replacing order for edited signal", map[string]interface{}{
			"messageID": messageID,
			"symbol":    existing.Symbol,
		})
		s.executor.StopMonitor(messageID)
		if existing.OrderID != "" {
			if err := s.executor.CancelOrder(ctx, existing.Symbol, existing.OrderID); err != nil {
				s.logger.Error(ctx, err, op+": could not cancel superseded order", map[string]interface{}{
					"messageID": messageID,
					"symbol":    existing.Symbol,
					"orderID":   existing.OrderID,
				})
			}
		}
		if err := s.orders.Delete(ctx, messageID); err != nil {
			s.logger.Error(ctx, err, op+": could not delete superseded order", map[string]interface{}{"messageID": messageID})
		}
	}

	// Re-run the edited text as if it had just arrived.
	s.HandleNewMessage(ctx, messageID, text)
}

// HandleReply processes a post replying to an earlier signal: stop-loss moves
// and DCA limit orders against the order that signal produced.
func (s *Service) HandleReply(ctx context.Context, replyToID int, text string) {
	op := "handleReply"

	cmd := s.parser.ParseReply(text)
	if cmd == nil {
		s.logger.Debug(ctx, op+": reply carries no command", map[string]interface{}{"replyTo": replyToID})
		return
	}

	order, err := s.orders.Get(ctx, replyToID)
	if err != nil {
		s.logger.Error(ctx, err, op+": registry lookup failed", map[string]interface{}{"replyTo": replyToID})
		s.notifier.Send(ctx, "❌ Could not process reply command: order registry unavailable.")
		return
	}
	if order == nil {
		s.logger.Warn(ctx, op+": reply references no tracked order", map[string]interface{}{"replyTo": replyToID})
		s.notifier.Send(ctx, "⚠️ Reply command ignored: no active order for that signal.")
		return
	}

	if cmd.DCA {
		if err := s.executor.PlaceDCAOrder(ctx, order, cmd.DCAPrice); err != nil {
			s.logger.Error(ctx, err, op+": DCA order failed", map[string]interface{}{"symbol": order.Symbol})
		}
	}
	if cmd.StopMove {
		if err := s.executor.MoveStopLoss(ctx, order, cmd); err != nil {
			s.logger.Error(ctx, err, op+": stop-loss move failed", map[string]interface{}{"symbol": order.Symbol})
		}
	}
}

// hasOpenOrder reports whether the registry already tracks a non-filled order
// for the symbol and side. Errors fail open so an unreadable registry cannot
// block trading; the exchange enforces margin limits regardless.
func (s *Service) hasOpenOrder(ctx context.Context, symbol string, side domain.OrderSide) bool {
	all, err := s.orders.GetAll(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "could not read registry for duplicate check")
		return false
	}
	for _, order := range all {
		if order.Symbol == symbol && order.Side == side && !order.Filled {
			return true
		}
	}
	return false
}
