package db

import "time"

// User is an operator-console account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile holds a user's trade parameters. The engine reads a snapshot at the
// start of each lifecycle run; the operator console is the only writer, with
// two exceptions: auth failures and emergency stops clear auto_trading.
type Profile struct {
	UserID           string
	TradeAmount      float64
	Leverage         int
	LeverageOverride int // operator-set, wins over Leverage when > 0
	TakeProfitRatio  float64
	AutoTrading      bool
	EmergencyStop    bool
	UpdatedAt        time.Time
}

// Credentials are the encrypted venue API credentials for one user.
type Credentials struct {
	UserID     string
	APIKey     string
	APISecret  string
	Passphrase string
}

// Position status values.
const (
	PositionOpening = "opening"
	PositionOpen    = "open"
	PositionClosing = "closing"
	PositionClosed  = "closed"
	PositionFailed  = "failed"
	// PositionReview marks a partial-fill timeout that needs a human.
	PositionReview = "needs-manual-review"
)

// Position is one leveraged position opened for a listing opportunity.
// (UserID, Symbol, EventID) is unique: a second attempt for the same
// opportunity is a no-op.
type Position struct {
	ID          string
	UserID      string
	Symbol      string
	EventID     string
	EntryPrice  float64
	Size        float64
	Leverage    int
	Status      string
	RealizedPnL float64
	OpenedAt    time.Time
	ClosedAt    time.Time
}

// Trade records one fill-confirmed venue execution.
type Trade struct {
	ID         string
	PositionID string
	UserID     string
	Symbol     string
	Side       string
	Price      float64
	Qty        float64
	CreatedAt  time.Time
}
