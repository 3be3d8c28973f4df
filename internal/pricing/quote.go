package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const notAvailable = "N/A"

// Quote is one normalized stablecoin price.
type Quote struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	MarketCap    string          `json:"market_cap"`
	MarketCapUSD decimal.Decimal `json:"-"`
	Change24h    decimal.Decimal `json:"change_24h"`
	Chains       []string        `json:"chains"`
	LastUpdated  time.Time       `json:"last_updated"`
}

func (q Quote) clone() Quote {
	q.Chains = append([]string(nil), q.Chains...)
	return q
}

// Snapshot is the result of one successful upstream fetch.
type Snapshot struct {
	Quotes    []Quote
	FetchedAt time.Time
	TTL       time.Duration
}

// CacheInfo describes the cache without touching the network.
type CacheInfo struct {
	Valid      bool       `json:"cache_valid"`
	FetchedAt  *time.Time `json:"last_updated"`
	AgeSeconds float64    `json:"age_seconds"`
	TTLSeconds float64    `json:"ttl_seconds"`
	Entries    int        `json:"entries"`
}

// HistoryStore records every successful fetch.
type HistoryStore interface {
	InsertQuotes(ctx context.Context, fetchedAt time.Time, quotes []Quote) error
}
