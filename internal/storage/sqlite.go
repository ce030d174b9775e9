package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pvandam/mtfbot/internal/models"
)

// SQLiteStorage is the durable trade journal. database/sql serializes
// access to the single connection; the mutex only guards the upsert
// paths that read-modify-write.
type SQLiteStorage struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies
// the schema. Parent directories are created as needed.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// SaveTradeEntry inserts the open half of a trade. Assigns an ID when
// the trade does not carry one yet.
func (s *SQLiteStorage) SaveTradeEntry(t *models.Trade) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	_, err := s.db.Exec(`
		INSERT INTO trades
		(id, ticker, direction, quantity, entry_time, entry_price,
		 stop_loss, take_profit, commission, slippage, signal_reason, order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Ticker, string(t.Direction), t.Quantity,
		t.EntryTime.UTC(), t.EntryPrice,
		nullFloat(t.StopLoss), nullFloat(t.TakeProfit),
		t.Commission, t.Slippage, t.SignalReason, t.OrderID,
	)
	if err != nil {
		return fmt.Errorf("saving trade entry: %w", err)
	}
	return nil
}

// SaveTradeExit records the close of a previously saved trade.
func (s *SQLiteStorage) SaveTradeExit(t *models.Trade) error {
	if t.ID == "" {
		return fmt.Errorf("trade has no ID")
	}

	res, err := s.db.Exec(`
		UPDATE trades
		SET exit_time = ?, exit_price = ?, pnl = ?, pnl_pct = ?,
		    exit_reason = ?, commission = ?, slippage = ?
		WHERE id = ?`,
		t.ExitTime.UTC(), t.ExitPrice, t.PnL, t.PnLPct(),
		t.ExitReason, t.Commission, t.Slippage, t.ID,
	)
	if err != nil {
		return fmt.Errorf("saving trade exit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("trade %s not found", t.ID)
	}
	return nil
}

// OpenTrades returns trades that have not been exited yet.
func (s *SQLiteStorage) OpenTrades() ([]models.Trade, error) {
	return s.queryTrades(`SELECT ` + tradeColumns + ` FROM trades WHERE exit_time IS NULL ORDER BY entry_time`)
}

// TradesToday returns trades entered on the given calendar date
// (YYYY-MM-DD, interpreted against the stored UTC entry times).
func (s *SQLiteStorage) TradesToday(date string) ([]models.Trade, error) {
	return s.queryTrades(`SELECT `+tradeColumns+` FROM trades WHERE date(entry_time) = ? ORDER BY entry_time`, date)
}

// TradeHistory returns the most recent closed trades, newest first.
func (s *SQLiteStorage) TradeHistory(limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryTrades(`SELECT `+tradeColumns+` FROM trades WHERE exit_time IS NOT NULL ORDER BY exit_time DESC LIMIT ?`, limit)
}

// TradeStats aggregates the closed-trade history.
func (s *SQLiteStorage) TradeStats() (*TradeStats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN pnl ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN pnl ELSE 0 END), 0),
		       COALESCE(MAX(pnl), 0),
		       COALESCE(MIN(pnl), 0)
		FROM trades WHERE exit_time IS NOT NULL`)

	var stats TradeStats
	var grossWin, grossLoss float64
	err := row.Scan(&stats.TotalTrades, &stats.TotalPnL,
		&stats.Wins, &stats.Losses,
		&grossWin, &grossLoss,
		&stats.LargestWin, &stats.LargestLoss)
	if err != nil {
		return nil, fmt.Errorf("computing trade stats: %w", err)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades) * 100
	}
	if stats.Wins > 0 {
		stats.AverageWin = grossWin / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AverageLoss = grossLoss / float64(stats.Losses)
	}
	if grossLoss != 0 {
		stats.ProfitFactor = grossWin / -grossLoss
	}
	return &stats, nil
}

// SaveDailyPnL upserts the rollup row for rec.Date.
func (s *SQLiteStorage) SaveDailyPnL(rec DailyPnL) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO daily_pnl
		(date, realized_pnl, unrealized_pnl, trades_taken, wins, losses,
		 equity_start, equity_end, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		 realized_pnl = excluded.realized_pnl,
		 unrealized_pnl = excluded.unrealized_pnl,
		 trades_taken = excluded.trades_taken,
		 wins = excluded.wins,
		 losses = excluded.losses,
		 equity_start = excluded.equity_start,
		 equity_end = excluded.equity_end,
		 max_drawdown = excluded.max_drawdown`,
		rec.Date, rec.RealizedPnL, rec.UnrealizedPnL, rec.TradesTaken,
		rec.Wins, rec.Losses, rec.EquityStart, rec.EquityEnd, rec.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("saving daily pnl: %w", err)
	}
	return nil
}

// DailyPnLHistory returns recent rollup rows, newest first.
func (s *SQLiteStorage) DailyPnLHistory(limit int) ([]DailyPnL, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(`
		SELECT date, realized_pnl, unrealized_pnl, trades_taken, wins, losses,
		       equity_start, equity_end, max_drawdown
		FROM daily_pnl ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading daily pnl: %w", err)
	}
	defer rows.Close()

	var out []DailyPnL
	for rows.Next() {
		var rec DailyPnL
		if err := rows.Scan(&rec.Date, &rec.RealizedPnL, &rec.UnrealizedPnL,
			&rec.TradesTaken, &rec.Wins, &rec.Losses,
			&rec.EquityStart, &rec.EquityEnd, &rec.MaxDrawdown); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveState stores a small key/value blob for restart recovery.
func (s *SQLiteStorage) SaveState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving state %q: %w", key, err)
	}
	return nil
}

// LoadState returns the stored value and whether the key exists.
func (s *SQLiteStorage) LoadState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading state %q: %w", key, err)
	}
	return value, true, nil
}

// ClearState removes the key; clearing a missing key is not an error.
func (s *SQLiteStorage) ClearState(key string) error {
	_, err := s.db.Exec(`DELETE FROM bot_state WHERE key = ?`, key)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const tradeColumns = `id, ticker, direction, quantity, entry_time, entry_price,
	exit_time, exit_price, stop_loss, take_profit, commission, slippage,
	pnl, exit_reason, signal_reason, order_id`

func (s *SQLiteStorage) queryTrades(query string, args ...interface{}) ([]models.Trade, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		var direction string
		var exitTime sql.NullTime
		var exitPrice, stopLoss, takeProfit, pnl sql.NullFloat64
		var exitReason sql.NullString

		err := rows.Scan(&t.ID, &t.Ticker, &direction, &t.Quantity,
			&t.EntryTime, &t.EntryPrice,
			&exitTime, &exitPrice, &stopLoss, &takeProfit,
			&t.Commission, &t.Slippage,
			&pnl, &exitReason, &t.SignalReason, &t.OrderID)
		if err != nil {
			return nil, err
		}

		t.Direction = models.Direction(direction)
		t.EntryTime = t.EntryTime.UTC()
		if exitTime.Valid {
			t.ExitTime = exitTime.Time.UTC()
		}
		t.ExitPrice = exitPrice.Float64
		t.StopLoss = stopLoss.Float64
		t.TakeProfit = takeProfit.Float64
		t.PnL = pnl.Float64
		t.ExitReason = exitReason.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// nullFloat maps the zero value to NULL so unset stop and target
// levels stay distinguishable from a literal 0.
func nullFloat(v float64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
