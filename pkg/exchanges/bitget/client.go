// Package bitget implements the common.Gateway contract against the
// Bitget USDT-margined perpetual (mix v1) REST API.
package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"listing-core/pkg/exchanges/common"
)

const (
	defaultBaseURL = "https://api.bitget.com"
	productType    = "umcbl" // USDT-margined perpetual
	marginCoin     = "USDT"
)

// Config holds Bitget credentials for one user.
type Config struct {
	APIKey     string
	APISecret  string
	Passphrase string
	BaseURL    string // defaults to the production endpoint
}

// Client is a per-user Bitget mix v1 client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Bitget perp client.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Bitget allows 20 req/s per endpoint group; stay under it.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// envelope is the venue response wrapper. Code "00000" means success
// regardless of the HTTP status, and vice versa.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

const codeOK = "00000"

// SetLeverage configures leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]string{
		"symbol":     symbol,
		"marginCoin": marginCoin,
		"leverage":   strconv.Itoa(leverage),
	}
	_, err := c.doSigned(ctx, http.MethodPost, "/api/mix/v1/account/setLeverage", nil, body)
	return err
}

// MaxLeverage returns the venue maximum leverage for a symbol.
func (c *Client) MaxLeverage(ctx context.Context, symbol string) (int, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	data, err := c.doPublic(ctx, "/api/mix/v1/market/symbol-leverage", q)
	if err != nil {
		return 0, err
	}
	var out struct {
		MaxLeverage string `json:"maxLeverage"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("parse symbol-leverage: %w", err)
	}
	lev, err := strconv.Atoi(out.MaxLeverage)
	if err != nil {
		return 0, fmt.Errorf("parse maxLeverage %q: %w", out.MaxLeverage, err)
	}
	return lev, nil
}

// GetBalance returns the USDT margin balance.
func (c *Client) GetBalance(ctx context.Context) (common.Balance, error) {
	q := url.Values{}
	q.Set("productType", productType)
	data, err := c.doSigned(ctx, http.MethodGet, "/api/mix/v1/account/accounts", q, nil)
	if err != nil {
		return common.Balance{}, err
	}
	var accounts []struct {
		MarginCoin string `json:"marginCoin"`
		Available  string `json:"available"`
		Equity     string `json:"equity"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return common.Balance{}, fmt.Errorf("parse accounts: %w", err)
	}
	for _, a := range accounts {
		if a.MarginCoin != marginCoin {
			continue
		}
		return common.Balance{
			MarginCoin: a.MarginCoin,
			Available:  parseFloat(a.Available),
			Equity:     parseFloat(a.Equity),
		}, nil
	}
	return common.Balance{MarginCoin: marginCoin}, nil
}

// PlaceOrder submits a market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	mc := req.MarginCoin
	if mc == "" {
		mc = marginCoin
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = "normal"
	}
	body := map[string]any{
		"symbol":           req.Symbol,
		"marginCoin":       mc,
		"size":             formatFloat(req.Size),
		"side":             string(req.Side),
		"orderType":        string(req.Type),
		"timeInForceValue": tif,
	}
	if req.Type == common.OrderTypeLimit {
		body["price"] = formatFloat(req.Price)
	}
	if req.ClientOID != "" {
		body["clientOid"] = req.ClientOID
	}

	data, err := c.doSigned(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", nil, body)
	if err != nil {
		return common.OrderResult{}, err
	}
	var out struct {
		OrderID   string `json:"orderId"`
		ClientOID string `json:"clientOid"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return common.OrderResult{}, fmt.Errorf("parse placeOrder: %w", err)
	}
	return common.OrderResult{OrderID: out.OrderID, ClientOID: out.ClientOID}, nil
}

// GetOrderFills lists executions for an order.
func (c *Client) GetOrderFills(ctx context.Context, symbol, orderID string) ([]common.Fill, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	data, err := c.doSigned(ctx, http.MethodGet, "/api/mix/v1/order/fills", q, nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		TradeID string `json:"tradeId"`
		OrderID string `json:"orderId"`
		Symbol  string `json:"symbol"`
		Price   string `json:"price"`
		SizeQty string `json:"sizeQty"`
		Fee     string `json:"fee"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse fills: %w", err)
	}
	fills := make([]common.Fill, 0, len(raw))
	for _, f := range raw {
		fills = append(fills, common.Fill{
			TradeID: f.TradeID,
			OrderID: f.OrderID,
			Symbol:  f.Symbol,
			Price:   parseFloat(f.Price),
			Size:    parseFloat(f.SizeQty),
			Fee:     parseFloat(f.Fee),
		})
	}
	return fills, nil
}

// GetTicker returns the market snapshot for a symbol. Public endpoint.
func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	data, err := c.doPublic(ctx, "/api/mix/v1/market/ticker", q)
	if err != nil {
		return common.Ticker{}, err
	}
	var out struct {
		Symbol  string `json:"symbol"`
		Last    string `json:"last"`
		BestAsk string `json:"bestAsk"`
		BestBid string `json:"bestBid"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return common.Ticker{}, fmt.Errorf("parse ticker: %w", err)
	}
	return common.Ticker{
		Symbol:  out.Symbol,
		Last:    parseFloat(out.Last),
		BestAsk: parseFloat(out.BestAsk),
		BestBid: parseFloat(out.BestBid),
	}, nil
}

// GetPositions lists open positions, optionally scoped to one symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]common.Position, error) {
	q := url.Values{}
	q.Set("productType", productType)
	q.Set("marginCoin", marginCoin)
	data, err := c.doSigned(ctx, http.MethodGet, "/api/mix/v1/position/allPosition", q, nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		Total            string `json:"total"`
		AverageOpenPrice string `json:"averageOpenPrice"`
		Leverage         int    `json:"leverage"`
		UnrealizedPL     string `json:"unrealizedPL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}
	var out []common.Position
	for _, p := range raw {
		size := parseFloat(p.Total)
		if size == 0 {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, common.Position{
			Symbol:        p.Symbol,
			Size:          size,
			EntryPrice:    parseFloat(p.AverageOpenPrice),
			Leverage:      p.Leverage,
			UnrealizedPnL: parseFloat(p.UnrealizedPL),
		})
	}
	return out, nil
}

// CloseAllPositions flattens every open position for the product type.
func (c *Client) CloseAllPositions(ctx context.Context) error {
	body := map[string]string{"productType": productType}
	_, err := c.doSigned(ctx, http.MethodPost, "/api/mix/v1/order/close-all-positions", nil, body)
	return err
}

// doPublic performs an unsigned GET and unwraps the venue envelope.
func (c *Client) doPublic(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, path)
}

// doSigned signs the request per the venue contract:
// sign = base64(HMAC-SHA256(secret, timestamp + METHOD + path[?query] + body)).
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" || c.cfg.Passphrase == "" {
		return nil, errors.New("bitget: API key, secret and passphrase required")
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature := sign(c.cfg.APISecret, timestamp, method, requestPath, string(payload))

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("ACCESS-SIGN", signature)
	req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("Content-Type", "application/json")

	return c.send(req, path)
}

// send rate-limits, executes and unwraps the response envelope, checking the
// venue status code in addition to the HTTP status.
func (c *Client) send(req *http.Request, path string) (json.RawMessage, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Path: path, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &APIError{Path: path, HTTPStatus: res.StatusCode, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Path: path, HTTPStatus: res.StatusCode, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if res.StatusCode >= 300 || env.Code != codeOK {
		return nil, &APIError{Path: path, HTTPStatus: res.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
