package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Used when the leverage-bracket endpoint is unavailable.
	fallbackMaxLeverage = 125
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrInvalidSymbol
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -2019: // Margin is insufficient
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly Order is rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -3005: // Insufficient balance
			mappedErr = ports.ErrInsufficientFunds
		case -3041: // Position is not sufficient
			mappedErr = ports.ErrInsufficientFunds
		case -4003: // Qty not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4014: // Price not within permissible range
			mappedErr = ports.ErrInvalidRequest
		case -4015, -4028: // Leverage is not valid
			mappedErr = ports.ErrLeverageNotValid
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		case -4047: // Exceeded the maximum allowable position at current leverage.
			mappedErr = ports.ErrInsufficientFunds
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetInstrument retrieves the trading rules for a symbol. An unlisted symbol
// maps to ErrInvalidSymbol so callers can trigger the scaling fallback.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (*ports.Instrument, error) {
	op := "GetInstrument"
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var found *futures.Symbol
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			found = &info.Symbols[i]
			break
		}
	}
	if found == nil {
		c.logger.Debug(ctx, op+": symbol not listed", map[string]interface{}{"symbol": symbol})
		return nil, fmt.Errorf("%s: %s: %w", op, symbol, ports.ErrInvalidSymbol)
	}

	lotFilter := found.LotSizeFilter()
	if lotFilter == nil {
		err := fmt.Errorf("no lot size filter for symbol %s", symbol)
		return nil, c.handleError(ctx, err, op)
	}
	lotStep, err := decimal.NewFromString(lotFilter.StepSize)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", lotFilter.StepSize, err), op)
	}
	maxQty, err := decimal.NewFromString(lotFilter.MaxQuantity)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse max quantity '%s': %w", lotFilter.MaxQuantity, err), op)
	}

	return &ports.Instrument{
		Symbol:      symbol,
		LotStep:     lotStep,
		MaxQty:      maxQty,
		MaxLeverage: c.maxLeverage(ctx, symbol),
	}, nil
}

// maxLeverage reads the highest permitted leverage from the symbol's first
// leverage bracket. The endpoint needs authenticated access, so failures fall
// back to the exchange-wide maximum rather than blocking the order flow.
func (c *Client) maxLeverage(ctx context.Context, symbol string) int {
	op := "maxLeverage"
	brackets, err := c.futuresClient.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
	if err != nil || len(brackets) == 0 || len(brackets[0].Brackets) == 0 {
		c.logger.Warn(ctx, op+": leverage brackets unavailable, using fallback", map[string]interface{}{
			"symbol":   symbol,
			"fallback": fallbackMaxLeverage,
		})
		return fallbackMaxLeverage
	}
	return brackets[0].Brackets[0].InitialLeverage
}

// GetTickerPrice retrieves the last ticker price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	tickers, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].LastPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].LastPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetAccountBalance retrieves the wallet balance for a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.WalletBalance, 64)
			if err != nil {
				parseErr := fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.WalletBalance, asset, err)
				return 0, c.handleError(ctx, parseErr, op)
			}
			return balance, nil
		}
	}

	err = fmt.Errorf("asset %s not found in account balance", asset)
	return 0, c.handleError(ctx, err, op)
}

// SetLeverage sets the leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	op := "SetLeverage"
	_, err := c.futuresClient.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage})
	return nil
}

// PlaceEntryOrder places the entry order and its protective take-profit and
// stop-loss legs. The legs are close-position stop orders on the opposite
// side. If a leg cannot be placed the entry is cancelled on a best-effort
// basis and the error returned.
func (c *Client) PlaceEntryOrder(ctx context.Context, order ports.EntryOrder) (*ports.OrderResult, error) {
	op := "PlaceEntryOrder"

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Quantity(order.Quantity)
	if order.ClientOrderID != "" {
		svc = svc.NewClientOrderID(order.ClientOrderID)
	}
	if order.Market {
		svc = svc.Type(futures.OrderTypeMarket)
	} else {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatPrice(order.Price))
	}

	entry, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	resp := translateOrderResult(entry)
	c.logger.Info(ctx, op+": entry order accepted", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"orderID":  resp.OrderID,
	})

	closeSide := futures.SideType(order.Side.Opposite())

	if order.TakeProfit > 0 {
		_, err = c.futuresClient.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeTakeProfitMarket).
			StopPrice(formatPrice(order.TakeProfit)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			c.cancelEntryBestEffort(ctx, order.Symbol, resp.OrderID)
			return nil, c.handleError(ctx, fmt.Errorf("take profit leg: %w", err), op)
		}
	}

	if order.StopLoss > 0 {
		_, err = c.futuresClient.NewCreateOrderService().
			Symbol(order.Symbol).
			Side(closeSide).
			Type(futures.OrderTypeStopMarket).
			StopPrice(formatPrice(order.StopLoss)).
			ClosePosition(true).
			Do(ctx)
		if err != nil {
			c.cancelEntryBestEffort(ctx, order.Symbol, resp.OrderID)
			return nil, c.handleError(ctx, fmt.Errorf("stop loss leg: %w", err), op)
		}
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":     order.Symbol,
		"orderID":    resp.OrderID,
		"takeProfit": order.TakeProfit,
		"stopLoss":   order.StopLoss,
	})
	return resp, nil
}

// cancelEntryBestEffort tries to undo a just-placed entry after a protective
// leg failed. A failure here is logged only, the caller already has the
// original error to report.
func (c *Client) cancelEntryBestEffort(ctx context.Context, symbol string, orderID int64) {
	op := "cancelEntryBestEffort"
	_, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": could not cancel entry after leg failure", map[string]interface{}{
			"symbol":  symbol,
			"orderID": orderID,
		})
		return
	}
	c.logger.Warn(ctx, op+": entry cancelled after leg failure", map[string]interface{}{"symbol": symbol, "orderID": orderID})
}

// PlaceLimitOrder places a plain limit order without protective legs.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity string, price float64) (*ports.OrderResult, error) {
	op := "PlaceLimitOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(quantity).
		Price(formatPrice(price)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResult(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity, "price": price, "orderID": resp.OrderID})
	return resp, nil
}

// GetPosition retrieves the position record for a symbol. A record with zero
// size is returned as-is; callers distinguish "flat" from "no record".
func (c *Client) GetPosition(ctx context.Context, symbol string) (*ports.Position, error) {
	op := "GetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(positions) == 0 {
		c.logger.Debug(ctx, op+": no position record for symbol", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	return translatePosition(positions[0]), nil
}

// SetPositionStopLoss replaces the position's stop-loss with a close-all stop
// at the given price. An existing stop at the same price maps to
// ErrStopUnchanged; otherwise the old stop is cancelled and a new one placed.
func (c *Client) SetPositionStopLoss(ctx context.Context, symbol string, positionSide domain.OrderSide, stopPrice float64) error {
	op := "SetPositionStopLoss"

	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	for _, existing := range open {
		if existing.Type != futures.OrderTypeStopMarket || !existing.ClosePosition {
			continue
		}
		current, parseErr := strconv.ParseFloat(existing.StopPrice, 64)
		if parseErr == nil && current == stopPrice {
			return fmt.Errorf("%s: %s at %s: %w", op, symbol, existing.StopPrice, ports.ErrStopUnchanged)
		}
		if _, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(existing.OrderID).Do(ctx); err != nil {
			return c.handleError(ctx, fmt.Errorf("cancel previous stop: %w", err), op)
		}
		c.logger.Debug(ctx, op+": previous stop cancelled", map[string]interface{}{"symbol": symbol, "orderID": existing.OrderID})
	}

	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(positionSide.Opposite())).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "stopPrice": stopPrice})
	return nil
}

// CancelAllOrders cancels every open order for the symbol. An empty order
// book for the symbol maps to ErrNoOpenOrders so callers can report "nothing
// to cancel" instead of a silent success.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	op := "CancelAllOrders"

	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(open) == 0 {
		return 0, fmt.Errorf("%s: %s: %w", op, symbol, ports.ErrNoOpenOrders)
	}

	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "count": len(open)})
	return len(open), nil
}

// GetLastClosedPnL reconstructs the realized result of the most recently
// closed position from the account trade history. The exchange reports
// realized pnl per fill, so the fills belonging to the latest closing order
// are aggregated into one record.
func (c *Client) GetLastClosedPnL(ctx context.Context, symbol string) (*ports.ClosedPnL, error) {
	op := "GetLastClosedPnL"

	fills, err := c.futuresClient.NewListAccountTradeService().Symbol(symbol).Limit(50).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	// Closing fills are the ones carrying realized pnl.
	var latest *futures.AccountTrade
	for _, fill := range fills {
		pnl, _ := strconv.ParseFloat(fill.RealizedPnl, 64)
		if pnl == 0 {
			continue
		}
		if latest == nil || fill.Time > latest.Time {
			latest = fill
		}
	}
	if latest == nil {
		c.logger.Debug(ctx, op+": no closing fills found", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	var qty, pnl, fee, exitValue float64
	createdAt := latest.Time
	for _, fill := range fills {
		if fill.OrderID != latest.OrderID {
			continue
		}
		fillQty, _ := strconv.ParseFloat(fill.Quantity, 64)
		fillPrice, _ := strconv.ParseFloat(fill.Price, 64)
		fillPnl, _ := strconv.ParseFloat(fill.RealizedPnl, 64)
		fillFee, _ := strconv.ParseFloat(fill.Commission, 64)
		qty += fillQty
		pnl += fillPnl
		fee += fillFee
		exitValue += fillQty * fillPrice
		if fill.Time > createdAt {
			createdAt = fill.Time
		}
	}
	if qty == 0 {
		err := fmt.Errorf("closing fills for order %d sum to zero quantity", latest.OrderID)
		return nil, c.handleError(ctx, err, op)
	}

	exitPrice := exitValue / qty

	// The closing fill's side is the opposite of the position's. A SELL fill
	// closes a long: entry = exit - pnl/qty. A BUY fill closes a short.
	fillSide := domain.OrderSide(latest.Side)
	positionSide := fillSide.Opposite()
	entryPrice := exitPrice - pnl/qty
	if positionSide == domain.Sell {
		entryPrice = exitPrice + pnl/qty
	}

	return &ports.ClosedPnL{
		Symbol:     symbol,
		Side:       positionSide,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Qty:        qty,
		PnL:        pnl,
		Fee:        fee,
		CreatedAt:  time.UnixMilli(createdAt),
	}, nil
}

// CancelOrder cancels an open order on Binance.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*ports.OrderResult, error) {
	op := "CancelOrder"
	c.logger.Debug(ctx, "Attempting to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})

	res, err := c.futuresClient.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	// Manually create a CreateOrderResponse from CancelOrderResponse fields
	// as direct casting is not allowed.
	createOrderResp := &futures.CreateOrderResponse{
		OrderID:       res.OrderID,
		Symbol:        res.Symbol,
		ClientOrderID: res.ClientOrderID,
		Price:         res.Price,
		OrigQuantity:  res.OrigQuantity,
		Status:        res.Status, // Should be CANCELED
		Type:          res.Type,
		Side:          res.Side,
	}

	resp := translateOrderResult(createOrderResp)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "orderID": orderID, "status": resp.Status})
	return resp, nil
}

// --- Translation Helpers ---

func translateOrderResult(order *futures.CreateOrderResponse) *ports.OrderResult {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResult{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Type:          string(order.Type),
		Side:          string(order.Side),
		Timestamp:     time.UnixMilli(order.UpdateTime),
	}
}

func translatePosition(pos *futures.PositionRisk) *ports.Position {
	if pos == nil {
		return nil
	}
	amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	side := domain.Buy
	size := amt
	if amt < 0 {
		side = domain.Sell
		size = -amt
	}

	return &ports.Position{
		Symbol:       pos.Symbol,
		Side:         side,
		PositionSide: pos.PositionSide,
		Size:         size,
		EntryPrice:   entryPrice,
		Leverage:     leverage,
	}
}

// formatPrice renders a price without trailing zeros; the exchange accepts
// any precision at or below the symbol's tick size.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}
