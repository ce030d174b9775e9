package storage

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	ticker TEXT NOT NULL,
	direction TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_time DATETIME NOT NULL,
	entry_price REAL NOT NULL,
	exit_time DATETIME,
	exit_price REAL,
	stop_loss REAL,
	take_profit REAL,
	commission REAL NOT NULL DEFAULT 0,
	slippage REAL NOT NULL DEFAULT 0,
	pnl REAL,
	pnl_pct REAL,
	exit_reason TEXT,
	signal_reason TEXT,
	order_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);

CREATE TABLE IF NOT EXISTS daily_pnl (
	date TEXT PRIMARY KEY,
	realized_pnl REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	trades_taken INTEGER NOT NULL DEFAULT 0,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	equity_start REAL NOT NULL DEFAULT 0,
	equity_end REAL NOT NULL DEFAULT 0,
	max_drawdown REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bot_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
