package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jpillora/backoff"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/ports"
)

// Repository implements ports.TradeRepository and
// ports.TradeUpdateLogRepository on SQLite.
type Repository struct {
	db         *sql.DB
	logger     ports.Logger
	maxRetries int
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath     string
	Logger     ports.Logger
	MaxRetries int // retries for transient busy/locked failures
}

// NewRepository opens (creating if needed) the database and verifies the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed", nil)
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed", nil)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed", nil)
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, maxRetries: cfg.MaxRetries}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed", nil)
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist. Monetary columns are
// TEXT so decimals round-trip exactly.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		quantity TEXT NOT NULL,
		position_size TEXT NOT NULL,
		leverage INTEGER NOT NULL,
		tp1_price TEXT NOT NULL DEFAULT '0',
		tp2_price TEXT NOT NULL DEFAULT '0',
		tp3_price TEXT NOT NULL DEFAULT '0',
		sl_price TEXT NOT NULL DEFAULT '0',
		current_sl TEXT NOT NULL DEFAULT '0',
		current_tp TEXT NOT NULL DEFAULT '0',
		tp1_order_id TEXT DEFAULT NULL,
		tp2_order_id TEXT DEFAULT NULL,
		tp3_order_id TEXT DEFAULT NULL,
		strategy_type TEXT NOT NULL DEFAULT '',
		bot_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		pnl TEXT NOT NULL DEFAULT '0',
		pnl_percent TEXT NOT NULL DEFAULT '0',
		filled_at TIMESTAMP DEFAULT NULL,
		closed_at TIMESTAMP DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		stop_loss TEXT NOT NULL DEFAULT '0',
		price TEXT NOT NULL DEFAULT '0',
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_order_id ON trades (order_id);
	CREATE INDEX IF NOT EXISTS idx_trade_updates_trade_id ON trade_updates (trade_id);
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
		r.logger.Info(context.Background(), "Closing SQLite database connection", nil)
		return r.db.Close()
	}
	return nil
}

// isTransient reports whether err is a busy/locked failure worth retrying.
func isTransient(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs op, retrying transient failures with exponential backoff.
// Non-transient errors return immediately.
func (r *Repository) withRetry(ctx context.Context, op func() error) error {
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: time.Second, Jitter: true}
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil || !isTransient(err) || attempt >= r.maxRetries {
			return err
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

const tradeColumns = `id, order_id, symbol, side, entry_price, quantity, position_size, leverage,
	tp1_price, tp2_price, tp3_price, sl_price, current_sl, current_tp,
	COALESCE(tp1_order_id, ''), COALESCE(tp2_order_id, ''), COALESCE(tp3_order_id, ''),
	strategy_type, bot_name, status, pnl, pnl_percent, filled_at, closed_at, created_at, updated_at`

// --- TradeRepository Implementation ---

// Create inserts the trade and assigns its store id.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT INTO trades (order_id, symbol, side, entry_price, quantity, position_size, leverage,
	                    tp1_price, tp2_price, tp3_price, sl_price, current_sl, current_tp,
	                    tp1_order_id, tp2_order_id, tp3_order_id,
	                    strategy_type, bot_name, status, pnl, pnl_percent,
	                    filled_at, closed_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now

	err := r.withRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			trade.OrderID, trade.Symbol, string(trade.Side),
			trade.EntryPrice.String(), trade.Quantity.String(), trade.PositionSize.String(), trade.Leverage,
			trade.TP1Price.String(), trade.TP2Price.String(), trade.TP3Price.String(),
			trade.SLPrice.String(), trade.CurrentSL.String(), trade.CurrentTP.String(),
			nullString(trade.TP1OrderID), nullString(trade.TP2OrderID), nullString(trade.TP3OrderID),
			trade.StrategyType, trade.BotName, string(trade.Status),
			trade.PnL.String(), trade.PnLPercent.String(),
			nullTime(trade.FilledAt), nullTime(trade.ClosedAt), trade.CreatedAt, trade.UpdatedAt)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		trade.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert trade for symbol %s: %w", trade.Symbol, wrapStoreErr(err))
	}
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol, "orderID": trade.OrderID})
	return nil
}

// Update overwrites all mutable fields of the trade.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET entry_price = ?, quantity = ?, position_size = ?, current_sl = ?, current_tp = ?,
	    tp1_order_id = ?, tp2_order_id = ?, tp3_order_id = ?,
	    status = ?, pnl = ?, pnl_percent = ?, filled_at = ?, closed_at = ?, updated_at = ?
	WHERE id = ?`

	trade.UpdatedAt = time.Now().UTC()

	err := r.withRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			trade.EntryPrice.String(), trade.Quantity.String(), trade.PositionSize.String(),
			trade.CurrentSL.String(), trade.CurrentTP.String(),
			nullString(trade.TP1OrderID), nullString(trade.TP2OrderID), nullString(trade.TP3OrderID),
			string(trade.Status), trade.PnL.String(), trade.PnLPercent.String(),
			nullTime(trade.FilledAt), nullTime(trade.ClosedAt), trade.UpdatedAt,
			trade.ID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ports.ErrTradeNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ports.ErrTradeNotFound) {
			return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, err)
		}
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, wrapStoreErr(err))
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "status": trade.Status})
	return nil
}

// SetTakeProfitOrderID records one ladder leg's exchange id. The column is
// written once; an already-set leg is left untouched.
func (r *Repository) SetTakeProfitOrderID(ctx context.Context, tradeID int64, leg int, orderID string) error {
	var column string
	switch leg {
	case 1:
		column = "tp1_order_id"
	case 2:
		column = "tp2_order_id"
	case 3:
		column = "tp3_order_id"
	default:
		return fmt.Errorf("invalid take-profit leg %d: %w", leg, ports.ErrInvalidRequest)
	}

	query := fmt.Sprintf(`UPDATE trades SET %s = ?, updated_at = ? WHERE id = ? AND %s IS NULL`, column, column)

	err := r.withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, orderID, time.Now().UTC(), tradeID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set tp%d order id for trade %d: %w", leg, tradeID, wrapStoreErr(err))
	}
	return nil
}

// FindByID fetches one trade; (nil, nil) when no row matches.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`

	var trade *domain.Trade
	err := r.withRetry(ctx, func() error {
		var scanErr error
		trade, scanErr = scanTrade(r.db.QueryRowContext(ctx, query, id))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, wrapStoreErr(err))
	}
	return trade, nil
}

// FindByOrderID fetches the trade owning orderID as entry or take-profit leg.
func (r *Repository) FindByOrderID(ctx context.Context, orderID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE order_id = ? OR tp1_order_id = ? OR tp2_order_id = ? OR tp3_order_id = ?`

	var trade *domain.Trade
	err := r.withRetry(ctx, func() error {
		var scanErr error
		trade, scanErr = scanTrade(r.db.QueryRowContext(ctx, query, orderID, orderID, orderID, orderID))
		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by order ID %s: %w", orderID, wrapStoreErr(err))
	}
	return trade, nil
}

// FindActive returns all trades not in a terminal status.
func (r *Repository) FindActive(ctx context.Context) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status IN (?, ?, ?, ?) ORDER BY created_at DESC`
	return r.queryTrades(ctx, query,
		string(domain.StatusOpen), string(domain.StatusFilled),
		string(domain.StatusTP1Hit), string(domain.StatusTP2Hit))
}

// FindOpenOlderThan returns OPEN trades created before cutoff.
func (r *Repository) FindOpenOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status = ? AND created_at < ? ORDER BY created_at ASC`
	return r.queryTrades(ctx, query, string(domain.StatusOpen), cutoff.UTC())
}

// FindAll returns trades matching the filter, newest first.
func (r *Repository) FindAll(ctx context.Context, filter ports.TradeFilter) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	args := make([]interface{}, 0, 2)
	if filter.BotName != "" {
		query += ` AND bot_name = ?`
		args = append(args, filter.BotName)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	return r.queryTrades(ctx, query, args...)
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := r.withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		trades = make([]*domain.Trade, 0)
		for rows.Next() {
			trade, err := scanTrade(rows)
			if err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", wrapStoreErr(err))
	}
	return trades, nil
}

// --- TradeUpdateLogRepository Implementation ---

// Append writes one audit entry.
func (r *Repository) Append(ctx context.Context, update *domain.TradeUpdate) error {
	const query = `
	INSERT INTO trade_updates (trade_id, status, stop_loss, price, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	if update.CreatedAt.IsZero() {
		update.CreatedAt = time.Now().UTC()
	}

	err := r.withRetry(ctx, func() error {
		result, err := r.db.ExecContext(ctx, query,
			update.TradeID, string(update.Status),
			update.StopLoss.String(), update.Price.String(), update.Reason, update.CreatedAt)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		update.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append trade update for trade %d: %w", update.TradeID, wrapStoreErr(err))
	}
	return nil
}

// FindByTradeID returns a trade's audit entries oldest first.
func (r *Repository) FindByTradeID(ctx context.Context, tradeID int64) ([]*domain.TradeUpdate, error) {
	const query = `
	SELECT id, trade_id, status, stop_loss, price, reason, created_at
	FROM trade_updates WHERE trade_id = ? ORDER BY id ASC`

	var updates []*domain.TradeUpdate
	err := r.withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, query, tradeID)
		if err != nil {
			return err
		}
		defer rows.Close()

		updates = make([]*domain.TradeUpdate, 0)
		for rows.Next() {
			u := &domain.TradeUpdate{}
			var status, stopLoss, price string
			if err := rows.Scan(&u.ID, &u.TradeID, &status, &stopLoss, &price, &u.Reason, &u.CreatedAt); err != nil {
				return err
			}
			u.Status = domain.TradeStatus(status)
			if u.StopLoss, err = decimal.NewFromString(stopLoss); err != nil {
				return fmt.Errorf("bad stop_loss value '%s': %w", stopLoss, err)
			}
			if u.Price, err = decimal.NewFromString(price); err != nil {
				return fmt.Errorf("bad price value '%s': %w", price, err)
			}
			updates = append(updates, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query trade updates for trade %d: %w", tradeID, wrapStoreErr(err))
	}
	return updates, nil
}

// --- Helpers ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade. Decimal columns are TEXT and
// parsed exactly.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var filledAt, closedAt sql.NullTime
	dec := make([]string, 11)

	err := s.Scan(
		&t.ID, &t.OrderID, &t.Symbol, &side, &dec[0], &dec[1], &dec[2], &t.Leverage,
		&dec[3], &dec[4], &dec[5], &dec[6], &dec[7], &dec[8],
		&t.TP1OrderID, &t.TP2OrderID, &t.TP3OrderID,
		&t.StrategyType, &t.BotName, &status, &dec[9], &dec[10],
		&filledAt, &closedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	targets := []*decimal.Decimal{
		&t.EntryPrice, &t.Quantity, &t.PositionSize,
		&t.TP1Price, &t.TP2Price, &t.TP3Price,
		&t.SLPrice, &t.CurrentSL, &t.CurrentTP,
		&t.PnL, &t.PnLPercent,
	}
	for i, raw := range dec {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad decimal value '%s' in trade row: %w", raw, err)
		}
		*targets[i] = v
	}

	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	if filledAt.Valid {
		ft := filledAt.Time
		t.FilledAt = &ft
	}
	if closedAt.Valid {
		ct := closedAt.Time
		t.ClosedAt = &ct
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// wrapStoreErr maps driver failures onto the ports taxonomy.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrTradeNotFound) || errors.Is(err, ports.ErrInvalidRequest) {
		return err
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrCantOpen || sqlErr.Code == sqlite3.ErrNotADB) {
		return fmt.Errorf("%w: %v", ports.ErrDBConnection, err)
	}
	return fmt.Errorf("%w: %v", ports.ErrQueryFailed, err)
}
