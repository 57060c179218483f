package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrUserIDRequired = errors.New("user_id is required")

// --- Users ---

func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// --- Profiles ---

func (d *Database) UpsertProfile(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO user_profiles
			(user_id, trade_amount, leverage, leverage_override, take_profit_ratio, auto_trading, emergency_stop, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			trade_amount = excluded.trade_amount,
			leverage = excluded.leverage,
			leverage_override = excluded.leverage_override,
			take_profit_ratio = excluded.take_profit_ratio,
			auto_trading = excluded.auto_trading,
			emergency_stop = excluded.emergency_stop,
			updated_at = excluded.updated_at
	`, p.UserID, p.TradeAmount, p.Leverage, p.LeverageOverride, p.TakeProfitRatio,
		p.AutoTrading, p.EmergencyStop, time.Now())
	return err
}

func (d *Database) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, trade_amount, leverage, leverage_override, take_profit_ratio,
		       auto_trading, emergency_stop, updated_at
		FROM user_profiles WHERE user_id = ?
	`, userID)
	var p Profile
	err := row.Scan(&p.UserID, &p.TradeAmount, &p.Leverage, &p.LeverageOverride,
		&p.TakeProfitRatio, &p.AutoTrading, &p.EmergencyStop, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListEligibleUsers returns user IDs with auto-trading on and no emergency stop.
func (d *Database) ListEligibleUsers(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT p.user_id
		FROM user_profiles p
		JOIN api_credentials c ON c.user_id = p.user_id
		WHERE p.auto_trading = 1 AND p.emergency_stop = 0
		ORDER BY p.user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *Database) SetAutoTrading(ctx context.Context, userID string, enabled bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE user_profiles SET auto_trading = ?, updated_at = ? WHERE user_id = ?
	`, enabled, time.Now(), userID)
	return err
}

func (d *Database) SetEmergencyStop(ctx context.Context, userID string, stopped bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE user_profiles SET emergency_stop = ?, updated_at = ? WHERE user_id = ?
	`, stopped, time.Now(), userID)
	return err
}

// --- Credentials ---

// SaveCredentials stores already-encrypted credential strings.
func (d *Database) SaveCredentials(ctx context.Context, c Credentials) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO api_credentials (user_id, api_key, api_secret, passphrase, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			passphrase = excluded.passphrase,
			updated_at = excluded.updated_at
	`, c.UserID, c.APIKey, c.APISecret, c.Passphrase, time.Now())
	return err
}

func (d *Database) GetCredentials(ctx context.Context, userID string) (*Credentials, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT user_id, api_key, api_secret, passphrase
		FROM api_credentials WHERE user_id = ?
	`, userID)
	var c Credentials
	if err := row.Scan(&c.UserID, &c.APIKey, &c.APISecret, &c.Passphrase); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// --- Positions ---

// ClaimPosition inserts an "opening" row for the idempotency key before any
// order is sent. It returns false when the key already exists, meaning this
// opportunity was executed (or is executing) — the caller must not re-enter.
func (d *Database) ClaimPosition(ctx context.Context, p Position) (bool, error) {
	if p.UserID == "" {
		return false, ErrUserIDRequired
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO positions (id, user_id, symbol, event_id, leverage, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.UserID, p.Symbol, p.EventID, p.Leverage, PositionOpening)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *Database) GetPositionByKey(ctx context.Context, userID, symbol, eventID string) (*Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, user_id, symbol, event_id, entry_price, size, leverage, status, realized_pnl,
		       opened_at, closed_at
		FROM positions WHERE user_id = ? AND symbol = ? AND event_id = ?
	`, userID, symbol, eventID)
	return scanPosition(row)
}

// MarkPositionOpen records the confirmed fill.
func (d *Database) MarkPositionOpen(ctx context.Context, id string, entryPrice, size float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET status = ?, entry_price = ?, size = ?, opened_at = ?
		WHERE id = ?
	`, PositionOpen, entryPrice, size, time.Now(), id)
	return err
}

func (d *Database) SetPositionStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE positions SET status = ? WHERE id = ?`, status, id)
	return err
}

// ClosePosition archives the position with its realized result.
func (d *Database) ClosePosition(ctx context.Context, id string, realizedPnL float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET status = ?, realized_pnl = ?, closed_at = ? WHERE id = ?
	`, PositionClosed, realizedPnL, time.Now(), id)
	return err
}

func (d *Database) GetPositionsByUser(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return d.queryPositions(ctx, `
		SELECT id, user_id, symbol, event_id, entry_price, size, leverage, status, realized_pnl,
		       opened_at, closed_at
		FROM positions WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
}

// GetOpenPositionsByUser returns positions not yet in a terminal state.
func (d *Database) GetOpenPositionsByUser(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return d.queryPositions(ctx, `
		SELECT id, user_id, symbol, event_id, entry_price, size, leverage, status, realized_pnl,
		       opened_at, closed_at
		FROM positions WHERE user_id = ? AND status IN (?, ?, ?)
	`, userID, PositionOpening, PositionOpen, PositionClosing)
}

func (d *Database) queryPositions(ctx context.Context, query string, args ...any) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var openedAt, closedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &p.EventID, &p.EntryPrice, &p.Size,
			&p.Leverage, &p.Status, &p.RealizedPnL, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		p.OpenedAt = openedAt.Time
		p.ClosedAt = closedAt.Time
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(row *sql.Row) (*Position, error) {
	var p Position
	var openedAt, closedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &p.EventID, &p.EntryPrice, &p.Size,
		&p.Leverage, &p.Status, &p.RealizedPnL, &openedAt, &closedAt)
	if err == nil {
		p.OpenedAt = openedAt.Time
		p.ClosedAt = closedAt.Time
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// --- Trades ---

func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, position_id, user_id, symbol, side, price, qty, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PositionID, t.UserID, t.Symbol, t.Side, t.Price, t.Qty, time.Now())
	return err
}

// --- Baseline ---

func (d *Database) BaselineCount(ctx context.Context) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM baseline_symbols`).Scan(&n)
	return n, err
}

func (d *Database) BaselineList(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT symbol FROM baseline_symbols`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BaselineAdd inserts symbols in one transaction; duplicates are ignored.
func (d *Database) BaselineAdd(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin baseline tx: %w", err)
	}
	for _, s := range symbols {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO baseline_symbols (symbol) VALUES (?)
		`, s); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert baseline symbol %s: %w", s, err)
		}
	}
	return tx.Commit()
}
