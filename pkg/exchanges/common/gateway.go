package common

import "context"

// Gateway abstracts the leveraged trading venue. One instance per user
// credential set; implementations must be safe for concurrent use.
type Gateway interface {
	// SetLeverage configures leverage for a symbol before opening.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	// MaxLeverage returns the venue maximum leverage for a symbol.
	MaxLeverage(ctx context.Context, symbol string) (int, error)
	// GetBalance returns the account margin balance.
	GetBalance(ctx context.Context) (Balance, error)
	// PlaceOrder submits a market or limit order.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// GetOrderFills lists executions for an order.
	GetOrderFills(ctx context.Context, symbol, orderID string) ([]Fill, error)
	// GetTicker returns the current market snapshot (public, unsigned).
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	// GetPositions lists open positions, optionally scoped to a symbol.
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	// CloseAllPositions flattens every open position for the product type.
	CloseAllPositions(ctx context.Context) error
}
