package listing

import (
	"regexp"
	"strings"
)

// Announcement title matching is heuristic: listing notices follow loose
// editorial conventions and symbol extraction can both over- and
// under-match. Extracted symbols are therefore tagged with a confidence so
// downstream consumers can require operator review before trading.

var listingTitlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`신규.*상장`),
	regexp.MustCompile(`원화.*마켓.*추가`),
	regexp.MustCompile(`USDT.*마켓.*추가`),
	regexp.MustCompile(`(?i)new\s+listing`),
	regexp.MustCompile(`(?i)market\s+launch`),
	regexp.MustCompile(`(?i)trading\s+support`),
}

// Symbols inside parentheses, e.g. "세이프코인(SAFE)" or "SafeCoin (SAFE)".
var parenSymbolPattern = regexp.MustCompile(`\(([A-Z0-9]{2,10})\)`)

// Bare uppercase tokens, much noisier than the parenthesized form.
var bareSymbolPattern = regexp.MustCompile(`\b([A-Z]{3,8})\b`)

// Words that look like tickers but never are.
var symbolStopwords = map[string]bool{
	"USDT": true, "KRW": true, "BTC": true, "NEW": true, "API": true,
	"UTC": true, "KST": true, "IEO": true, "AMA": true,
}

// Confidence expresses how trustworthy an extracted symbol is.
type Confidence string

const (
	// ConfidenceHigh symbols came from the market-list diff, which is exact.
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow symbols were parsed out of announcement free text and
	// must be confirmed by an operator before any order is placed.
	ConfidenceLow Confidence = "low"
)

// IsListingAnnouncement reports whether a notice title looks like a new
// listing announcement.
func IsListingAnnouncement(title string) bool {
	for _, p := range listingTitlePatterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// ExtractSymbols pulls candidate base symbols from an announcement title.
// Parenthesized tickers are preferred; bare uppercase tokens are only used
// when nothing parenthesized is present.
func ExtractSymbols(title string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(sym string) {
		sym = strings.TrimSpace(sym)
		if sym == "" || symbolStopwords[sym] || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}

	for _, m := range parenSymbolPattern.FindAllStringSubmatch(title, -1) {
		add(m[1])
	}
	if len(out) > 0 {
		return out
	}
	for _, m := range bareSymbolPattern.FindAllStringSubmatch(title, -1) {
		add(m[1])
	}
	return out
}
