// Package storage persists trades, daily P&L rollups, and restart
// state to a local SQLite database.
package storage

import "github.com/pvandam/mtfbot/internal/models"

// Interface defines the contract for trade and state persistence.
//
// Implementations must be safe for concurrent use - callers can assume
// all methods are goroutine-safe and can safely call these methods from
// multiple goroutines.
type Interface interface {
	// Trade journal
	SaveTradeEntry(t *models.Trade) error
	SaveTradeExit(t *models.Trade) error
	OpenTrades() ([]models.Trade, error)
	TradesToday(date string) ([]models.Trade, error)
	TradeHistory(limit int) ([]models.Trade, error)
	TradeStats() (*TradeStats, error)

	// Daily rollups
	SaveDailyPnL(rec DailyPnL) error
	DailyPnLHistory(limit int) ([]DailyPnL, error)

	// Restart state (small key/value blobs)
	SaveState(key, value string) error
	LoadState(key string) (string, bool, error)
	ClearState(key string) error

	Close() error
}

// TradeStats summarizes the closed-trade history.
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
	ProfitFactor float64 `json:"profit_factor"`
}

// DailyPnL is one row of the per-day rollup table.
type DailyPnL struct {
	Date          string  `json:"date"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TradesTaken   int     `json:"trades_taken"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	EquityStart   float64 `json:"equity_start"`
	EquityEnd     float64 `json:"equity_end"`
	MaxDrawdown   float64 `json:"max_drawdown"`
}

// NewStorage creates the default storage implementation.
func NewStorage(path string) (Interface, error) {
	return NewSQLiteStorage(path)
}

// Ensure SQLiteStorage implements Interface
var _ Interface = (*SQLiteStorage)(nil)
