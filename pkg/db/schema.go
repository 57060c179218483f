package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT PRIMARY KEY,
    trade_amount REAL NOT NULL DEFAULT 0,
    leverage INTEGER NOT NULL DEFAULT 0,
    leverage_override INTEGER NOT NULL DEFAULT 0,
    take_profit_ratio REAL NOT NULL DEFAULT 1.2,
    auto_trading BOOLEAN NOT NULL DEFAULT 0,
    emergency_stop BOOLEAN NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS api_credentials (
    user_id TEXT PRIMARY KEY,
    api_key TEXT NOT NULL,
    api_secret TEXT NOT NULL,
    passphrase TEXT NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS positions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    event_id TEXT NOT NULL,
    entry_price REAL NOT NULL DEFAULT 0,
    size REAL NOT NULL DEFAULT 0,
    leverage INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    realized_pnl REAL NOT NULL DEFAULT 0,
    opened_at DATETIME,
    closed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One position per (user, symbol, event): the at-most-once guarantee.
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_idempotency
    ON positions(user_id, symbol, event_id);
CREATE INDEX IF NOT EXISTS idx_positions_user_status
    ON positions(user_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    position_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    price REAL NOT NULL,
    qty REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS baseline_symbols (
    symbol TEXT PRIMARY KEY,
    added_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations creates the schema when missing. Statements are idempotent.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
