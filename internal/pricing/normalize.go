package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
	billion  = decimal.NewFromInt(1_000_000_000)
)

// Normalizer turns the aggregator's loosely shaped listing into quotes for the
// tracked symbols.
type Normalizer struct {
	tracked       map[string]struct{}
	fallbackChain string
	logger        zerolog.Logger
}

// NewNormalizer constructs a normalizer for the given symbols.
func NewNormalizer(symbols []string, fallbackChain string, logger zerolog.Logger) *Normalizer {
	tracked := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		tracked[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	if fallbackChain == "" {
		fallbackChain = "scroll"
	}
	return &Normalizer{
		tracked:       tracked,
		fallbackChain: fallbackChain,
		logger:        logger.With().Str("component", "price_normalizer").Logger(),
	}
}

// Tracked reports whether symbol is one of the configured stablecoins.
func (n *Normalizer) Tracked(symbol string) bool {
	_, ok := n.tracked[strings.ToUpper(symbol)]
	return ok
}

// Normalize parses raw and returns one quote per tracked entry with a
// positive price, in upstream order.
func (n *Normalizer) Normalize(raw []byte, fetchedAt time.Time) ([]Quote, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode stablecoin listing: %w", err)
	}

	entries, err := listingEntries(body)
	if err != nil {
		return nil, err
	}

	quotes := make([]Quote, 0, len(n.tracked))
	for _, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		quote, ok := n.normalizeEntry(item, fetchedAt)
		if !ok {
			continue
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

func listingEntries(body any) ([]any, error) {
	switch v := body.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"stablecoins", "peggedAssets"} {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("stablecoin listing has no stablecoins or peggedAssets list")
	default:
		return nil, fmt.Errorf("unexpected stablecoin listing type %T", body)
	}
}

func (n *Normalizer) normalizeEntry(item map[string]any, fetchedAt time.Time) (Quote, bool) {
	rawSymbol, _ := item["symbol"].(string)
	symbol := strings.ToUpper(strings.TrimSpace(rawSymbol))
	if !n.Tracked(symbol) {
		return Quote{}, false
	}

	price, ok := extractPrice(item)
	if !ok {
		n.logger.Debug().Str("symbol", symbol).Msg("entry has no positive price; dropped")
		return Quote{}, false
	}

	name, _ := item["name"].(string)
	if name == "" {
		name = symbol
	}

	quote := Quote{
		Symbol:      symbol,
		Name:        name,
		PriceUSD:    price,
		MarketCap:   notAvailable,
		Change24h:   extractChange24h(item),
		Chains:      n.extractChains(item),
		LastUpdated: fetchedAt,
	}
	if mcap, ok := extractMarketCap(item); ok {
		quote.MarketCapUSD = mcap
		quote.MarketCap = formatMarketCap(mcap)
	}
	return quote, true
}

// number accepts JSON numbers only.
func number(v any) (decimal.Decimal, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func positive(v any) (decimal.Decimal, bool) {
	d, ok := number(v)
	if !ok || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func chainBalances(item map[string]any) (map[string]any, []string) {
	balances, ok := item["chainBalances"].(map[string]any)
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(balances))
	for k := range balances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return balances, keys
}

type extractor func(item map[string]any) (decimal.Decimal, bool)

var priceExtractors = []extractor{
	func(item map[string]any) (decimal.Decimal, bool) {
		return positive(item["price"])
	},
	func(item map[string]any) (decimal.Decimal, bool) {
		balances, keys := chainBalances(item)
		for _, k := range keys {
			if chainData, ok := balances[k].(map[string]any); ok {
				if d, ok := positive(chainData["price"]); ok {
					return d, true
				}
			}
		}
		return decimal.Decimal{}, false
	},
	func(item map[string]any) (decimal.Decimal, bool) {
		market, ok := item["marketData"].(map[string]any)
		if !ok {
			return decimal.Decimal{}, false
		}
		return positive(market["priceUSD"])
	},
	func(item map[string]any) (decimal.Decimal, bool) {
		return positive(item["price_usd"])
	},
}

var marketCapExtractors = []extractor{
	func(item map[string]any) (decimal.Decimal, bool) {
		return positive(item["marketCap"])
	},
	func(item map[string]any) (decimal.Decimal, bool) {
		return positive(item["market_cap"])
	},
	func(item map[string]any) (decimal.Decimal, bool) {
		balances, _ := chainBalances(item)
		total := decimal.Zero
		for _, v := range balances {
			if chainData, ok := v.(map[string]any); ok {
				if d, ok := number(chainData["mcap"]); ok {
					total = total.Add(d)
				}
			}
		}
		return total, total.IsPositive()
	},
}

var changeKeys = []string{"change24h", "change_24h", "priceChange24h"}

func firstOf(extractors []extractor, item map[string]any) (decimal.Decimal, bool) {
	for _, fn := range extractors {
		if d, ok := fn(item); ok {
			return d, true
		}
	}
	return decimal.Decimal{}, false
}

func extractPrice(item map[string]any) (decimal.Decimal, bool) {
	return firstOf(priceExtractors, item)
}

func extractMarketCap(item map[string]any) (decimal.Decimal, bool) {
	return firstOf(marketCapExtractors, item)
}

func extractChange24h(item map[string]any) decimal.Decimal {
	for _, key := range changeKeys {
		if d, ok := number(item[key]); ok {
			return d
		}
	}
	return decimal.Zero
}

func (n *Normalizer) extractChains(item map[string]any) []string {
	seen := make(map[string]struct{})
	if list, ok := item["chains"].([]any); ok {
		for _, c := range list {
			if name, ok := c.(string); ok && name != "" {
				seen[name] = struct{}{}
			}
		}
	}
	_, keys := chainBalances(item)
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	if len(seen) == 0 {
		return []string{n.fallbackChain}
	}

	chains := make([]string, 0, len(seen))
	for c := range seen {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	return chains
}

// formatMarketCap renders a dollar amount as $x.xB, $x.xM, $x.xK or $x.xx.
func formatMarketCap(v decimal.Decimal) string {
	switch {
	case v.GreaterThanOrEqual(billion):
		return "$" + v.Div(billion).StringFixed(1) + "B"
	case v.GreaterThanOrEqual(million):
		return "$" + v.Div(million).StringFixed(1) + "M"
	case v.GreaterThanOrEqual(thousand):
		return "$" + v.Div(thousand).StringFixed(1) + "K"
	default:
		return "$" + v.StringFixed(2)
	}
}
