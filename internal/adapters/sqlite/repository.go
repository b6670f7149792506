package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signaltrader/internal/domain"
	"signaltrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout matches how created_at is stored, second precision and no zone.
const timeLayout = "2006-01-02 15:04:05"

// Repository implements ports.ActiveOrderRepository and
// ports.TradeLogRepository using SQLite. Mutating operations are serialized
// through a single mutex: handler goroutines and closure monitors
// read-then-write concurrently, and the last writer must not clobber the
// others.
type Repository struct {
	db     *sql.DB
	logger ports.Logger

	mu sync.Mutex // Serializes all mutating statements
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signaltrader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1) // SQLite handles concurrency internally, but Go driver benefits from limiting connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS active_orders (
		message_id INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		market_entry INTEGER NOT NULL DEFAULT 0,
		targets TEXT NOT NULL,
		position_side TEXT DEFAULT NULL,
		order_id TEXT NOT NULL,
		fund_percentage REAL NOT NULL,
		leverage INTEGER NOT NULL,
		filled INTEGER NOT NULL DEFAULT 0,
		original_message TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		qty REAL NOT NULL,
		pnl REAL NOT NULL,
		fee REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_active_orders_symbol ON active_orders (symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_log_symbol_created_at ON trade_log (symbol, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- ActiveOrderRepository Implementation ---

// Save inserts or replaces the order keyed by its message id.
func (r *Repository) Save(ctx context.Context, order *domain.ActiveOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets, err := json.Marshal(order.Targets)
	if err != nil {
		return fmt.Errorf("failed to encode targets for message %d: %w", order.MessageID, err)
	}

	const query = `
	INSERT OR REPLACE INTO active_orders
		(message_id, symbol, side, entry_price, market_entry, targets, position_side,
		 order_id, fund_percentage, leverage, filled, original_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		order.MessageID, order.Symbol, string(order.Side), order.EntryPrice, order.MarketEntry,
		string(targets), order.PositionSide, order.OrderID, order.FundPercentage,
		order.Leverage, order.Filled, order.OriginalMessage)
	if err != nil {
		return fmt.Errorf("failed to save active order for message %d: %w", order.MessageID, err)
	}
	r.logger.Debug(ctx, "Active order saved", map[string]interface{}{"messageID": order.MessageID, "symbol": order.Symbol})
	return nil
}

// Delete removes the order for the given message id. Deleting a missing id
// is not an error.
func (r *Repository) Delete(ctx context.Context, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `DELETE FROM active_orders WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete active order for message %d: %w", messageID, err)
	}
	r.logger.Debug(ctx, "Active order deleted", map[string]interface{}{"messageID": messageID})
	return nil
}

// Get retrieves the order for a message id. Returns nil, nil if absent.
func (r *Repository) Get(ctx context.Context, messageID int) (*domain.ActiveOrder, error) {
	const query = `
	SELECT message_id, symbol, side, entry_price, market_entry, targets, position_side,
	       order_id, fund_percentage, leverage, filled, original_message
	FROM active_orders WHERE message_id = ?`

	order, err := scanActiveOrder(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active order for message %d: %w", messageID, err)
	}
	return order, nil
}

// GetAll retrieves every tracked order keyed by message id.
func (r *Repository) GetAll(ctx context.Context) (map[int]*domain.ActiveOrder, error) {
	const query = `
	SELECT message_id, symbol, side, entry_price, market_entry, targets, position_side,
	       order_id, fund_percentage, leverage, filled, original_message
	FROM active_orders`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active orders: %w", err)
	}
	defer rows.Close()

	orders := make(map[int]*domain.ActiveOrder)
	for rows.Next() {
		order, err := scanActiveOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active order: %w", err)
		}
		orders[order.MessageID] = order
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active order rows: %w", err)
	}
	return orders, nil
}

// SetFilled marks the order for the given message id as filled.
func (r *Repository) SetFilled(ctx context.Context, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `UPDATE active_orders SET filled = 1 WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark order filled for message %d: %w", messageID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for message %d: %w", messageID, err)
	}
	if affected == 0 {
		return fmt.Errorf("active order for message %d: %w", messageID, ports.ErrNotFound)
	}
	return nil
}

// --- TradeLogRepository Implementation ---

// RecordTrade appends a closed trade. PnL and quantity are rounded to six
// decimals before storage so that the duplicate check compares like with
// like. When a row with the same (symbol, side, pnl, qty, created_at) tuple
// already exists, that row is deleted instead of a second one being inserted
// and ErrDuplicateEntry is returned.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pnl := roundTo(trade.PnL, 6)
	qty := roundTo(trade.Qty, 6)
	createdAt := trade.CreatedAt.UTC().Format(timeLayout)

	const dupQuery = `
	SELECT COUNT(*) FROM trade_log
	WHERE symbol = ? AND side = ? AND pnl = ? AND qty = ? AND created_at = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, dupQuery, trade.Symbol, string(trade.Side), pnl, qty, createdAt).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to check for duplicate trade: %w", err)
	}
	if count > 0 {
		const delQuery = `
		DELETE FROM trade_log
		WHERE symbol = ? AND side = ? AND pnl = ? AND qty = ? AND created_at = ?`
		if _, err := r.db.ExecContext(ctx, delQuery, trade.Symbol, string(trade.Side), pnl, qty, createdAt); err != nil {
			return 0, fmt.Errorf("failed to delete duplicate trade rows: %w", err)
		}
		r.logger.Warn(ctx, "Duplicate trade record removed", map[string]interface{}{"symbol": trade.Symbol, "pnl": pnl})
		return 0, fmt.Errorf("trade for %s at %s: %w", trade.Symbol, createdAt, ports.ErrDuplicateEntry)
	}

	const query = `
	INSERT INTO trade_log (symbol, side, entry_price, exit_price, qty, pnl, fee, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice, qty, pnl, trade.Fee, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": pnl})
	return id, nil
}

// FindRecent retrieves the most recent trades for a symbol, up to a limit.
// An empty symbol matches all symbols.
func (r *Repository) FindRecent(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, qty, pnl, fee, created_at
	FROM trade_log
	WHERE (? = '' OR symbol = ?)
	ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade log for symbol %q: %w", symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.ClosedTrade, 0)
	for rows.Next() {
		trade, err := scanClosedTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade log row: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade log rows: %w", err)
	}
	return trades, nil
}

// TotalPnL sums realized pnl across all recorded trades.
func (r *Repository) TotalPnL(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(pnl), 0) FROM trade_log`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanActiveOrder(s scanner) (*domain.ActiveOrder, error) {
	order := &domain.ActiveOrder{}
	var side, targets string
	var positionSide sql.NullString
	err := s.Scan(
		&order.MessageID, &order.Symbol, &side, &order.EntryPrice, &order.MarketEntry,
		&targets, &positionSide, &order.OrderID, &order.FundPercentage,
		&order.Leverage, &order.Filled, &order.OriginalMessage)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	order.Side = domain.OrderSide(side)
	if positionSide.Valid {
		order.PositionSide = positionSide.String
	}
	if err := json.Unmarshal([]byte(targets), &order.Targets); err != nil {
		return nil, fmt.Errorf("failed to decode targets for message %d: %w", order.MessageID, err)
	}
	return order, nil
}

func scanClosedTrade(s scanner) (*domain.ClosedTrade, error) {
	trade := &domain.ClosedTrade{}
	var side, createdAt string
	err := s.Scan(
		&trade.ID, &trade.Symbol, &side, &trade.EntryPrice, &trade.ExitPrice,
		&trade.Qty, &trade.PnL, &trade.Fee, &createdAt)
	if err != nil {
		return nil, err
	}
	trade.Side = domain.OrderSide(side)
	parsed, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", createdAt, err)
	}
	trade.CreatedAt = parsed.UTC()
	return trade, nil
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
