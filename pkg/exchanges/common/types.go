package common

// Side denotes the perp order side, venue wire values.
type Side string

const (
	SideOpenLong   Side = "open_long"
	SideOpenShort  Side = "open_short"
	SideCloseLong  Side = "close_long"
	SideCloseShort Side = "close_short"
)

// OrderType denotes basic order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	Symbol      string
	MarginCoin  string
	Side        Side
	Type        OrderType
	Price       float64 // required for limit
	Size        float64 // contracts, venue precision
	ClientOID   string  // client order id, carries the idempotency key
	TimeInForce string
}

// OrderResult is the venue ack for a placed order.
type OrderResult struct {
	OrderID   string
	ClientOID string
}

// Fill is one execution of an order.
type Fill struct {
	TradeID string
	OrderID string
	Symbol  string
	Price   float64
	Size    float64
	Fee     float64
}

// Ticker is the current market snapshot for a symbol.
type Ticker struct {
	Symbol  string
	Last    float64
	BestAsk float64
	BestBid float64
}

// Balance is the account margin balance.
type Balance struct {
	MarginCoin string
	Available  float64
	Equity     float64
}

// Position is an open venue position.
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	Leverage      int
	UnrealizedPnL float64
}
