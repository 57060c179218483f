// Package listing fetches the tradable symbol universe from the listing
// source and maps newly listed markets onto venue perp symbols.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyUniverse is returned when the source responds with zero markets.
// An empty universe is a source fault, never "no listings exist".
var ErrEmptyUniverse = errors.New("listing source returned empty universe")

// Client reads the full market list from an Upbit-style source.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a listing source client for the given market-list URL.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type market struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// FetchSymbols returns the current universe as venue perp symbols, derived
// from the source's USDT markets ("USDT-SAFE" -> "SAFEUSDT_UMCBL").
func (c *Client) FetchSymbols(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch market list: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("market list status %d", res.StatusCode)
	}

	var markets []market
	if err := json.NewDecoder(res.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("decode market list: %w", err)
	}
	if len(markets) == 0 {
		return nil, ErrEmptyUniverse
	}

	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		sym, ok := PerpSymbol(m.Market)
		if !ok {
			continue
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, ErrEmptyUniverse
	}
	return symbols, nil
}

// PerpSymbol maps a source market code to the venue perp symbol.
// Only USDT markets are tradable on the perp venue.
func PerpSymbol(marketCode string) (string, bool) {
	base, ok := strings.CutPrefix(marketCode, "USDT-")
	if !ok || base == "" {
		return "", false
	}
	return base + "USDT_UMCBL", true
}
