package listing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchSymbolsMapsUSDTMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"market":"KRW-BTC","korean_name":"비트코인","english_name":"Bitcoin"},
			{"market":"USDT-SAFE","korean_name":"세이프","english_name":"Safe"},
			{"market":"USDT-NEWX","korean_name":"뉴엑스","english_name":"NewX"},
			{"market":"BTC-ETH","korean_name":"이더리움","english_name":"Ethereum"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	syms, err := c.FetchSymbols(context.Background())
	if err != nil {
		t.Fatalf("FetchSymbols: %v", err)
	}
	want := []string{"SAFEUSDT_UMCBL", "NEWXUSDT_UMCBL"}
	if len(syms) != len(want) {
		t.Fatalf("got %v, want %v", syms, want)
	}
	for i := range want {
		if syms[i] != want[i] {
			t.Errorf("symbol %d: got %q, want %q", i, syms[i], want[i])
		}
	}
}

func TestFetchSymbolsEmptyUniverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchSymbols(context.Background()); !errors.Is(err, ErrEmptyUniverse) {
		t.Fatalf("got %v, want ErrEmptyUniverse", err)
	}
}

func TestFetchSymbolsNoUSDTMarketsIsEmptyUniverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"market":"KRW-BTC","korean_name":"비트코인","english_name":"Bitcoin"}]`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchSymbols(context.Background()); !errors.Is(err, ErrEmptyUniverse) {
		t.Fatalf("got %v, want ErrEmptyUniverse", err)
	}
}

func TestPerpSymbol(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"USDT-SAFE", "SAFEUSDT_UMCBL", true},
		{"USDT-BTC", "BTCUSDT_UMCBL", true},
		{"KRW-BTC", "", false},
		{"USDT-", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := PerpSymbol(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("PerpSymbol(%q) = %q,%v want %q,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestIsListingAnnouncement(t *testing.T) {
	yes := []string{
		"세이프코인(SAFE) 신규 거래지원 안내 (USDT 마켓 추가)",
		"New Listing: SafeCoin (SAFE)",
		"Trading support for NEWX",
	}
	no := []string{
		"서버 점검 안내",
		"Scheduled maintenance notice",
	}
	for _, title := range yes {
		if !IsListingAnnouncement(title) {
			t.Errorf("expected listing: %q", title)
		}
	}
	for _, title := range no {
		if IsListingAnnouncement(title) {
			t.Errorf("unexpected listing: %q", title)
		}
	}
}

func TestExtractSymbolsPrefersParenthesized(t *testing.T) {
	syms := ExtractSymbols("세이프코인(SAFE) 신규 거래지원 안내 (USDT 마켓 추가)")
	if len(syms) != 1 || syms[0] != "SAFE" {
		t.Fatalf("got %v, want [SAFE]", syms)
	}
}

func TestExtractSymbolsFallsBackToBareTokens(t *testing.T) {
	syms := ExtractSymbols("Trading support for NEWX on USDT market")
	if len(syms) != 1 || syms[0] != "NEWX" {
		t.Fatalf("got %v, want [NEWX]", syms)
	}
}

func TestExtractSymbolsSkipsStopwords(t *testing.T) {
	if syms := ExtractSymbols("(USDT) (KRW)"); len(syms) != 0 {
		t.Fatalf("got %v, want none", syms)
	}
}
