package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"stablecoin-payments/internal/apperr"
	"stablecoin-payments/internal/fetcher"
)

const flightKey = "stablecoins"

// CacheOptions parameterise the price cache.
type CacheOptions struct {
	TTL           time.Duration
	Symbols       []string
	FallbackChain string
}

// Cache serves stablecoin quotes with a TTL and falls back to the last good
// snapshot when the upstream fails.
type Cache struct {
	fetcher    fetcher.StablecoinFetcher
	normalizer *Normalizer
	history    HistoryStore
	ttl        time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	group singleflight.Group

	mu         sync.RWMutex
	snapshot   *Snapshot
	// generation is bumped by Clear; fetches started before a Clear are not installed.
	generation uint64
}

// NewCache constructs a cache. history may be nil.
func NewCache(opts CacheOptions, source fetcher.StablecoinFetcher, history HistoryStore, logger zerolog.Logger) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		fetcher:    source,
		normalizer: NewNormalizer(opts.Symbols, opts.FallbackChain, logger),
		history:    history,
		ttl:        ttl,
		logger:     logger.With().Str("component", "price_cache").Logger(),
		now:        time.Now,
	}
}

// Prices returns the tracked quotes. It never fails: on upstream errors the
// previous snapshot is served even if expired, or an empty slice if none exists.
func (c *Cache) Prices(ctx context.Context) []Quote {
	if quotes, ok := c.fresh(); ok {
		return quotes
	}

	result, _, _ := c.group.Do(flightKey, func() (any, error) {
		if quotes, ok := c.fresh(); ok {
			return quotes, nil
		}
		return c.refresh(context.WithoutCancel(ctx)), nil
	})
	return cloneQuotes(result.([]Quote))
}

// Quote returns the quote for one tracked symbol. The bool is false when the
// symbol is tracked but absent from the current data.
func (c *Cache) Quote(ctx context.Context, symbol string) (Quote, bool, error) {
	upper := strings.ToUpper(strings.TrimSpace(symbol))
	if !c.normalizer.Tracked(upper) {
		return Quote{}, false, apperr.New(apperr.KindValidation, "pricing.Quote", "unsupported stablecoin %q", symbol)
	}
	for _, q := range c.Prices(ctx) {
		if q.Symbol == upper {
			return q, true, nil
		}
	}
	return Quote{}, false, nil
}

// Info reports the cache state.
func (c *Cache) Info() CacheInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := CacheInfo{TTLSeconds: c.ttl.Seconds()}
	if c.snapshot == nil {
		return info
	}
	fetchedAt := c.snapshot.FetchedAt
	age := c.now().Sub(fetchedAt)
	info.FetchedAt = &fetchedAt
	info.AgeSeconds = age.Seconds()
	info.Valid = age < c.ttl
	info.Entries = len(c.snapshot.Quotes)
	return info
}

// Clear drops the snapshot so the next Prices call fetches.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.snapshot = nil
	c.generation++
	c.mu.Unlock()
	c.group.Forget(flightKey)
	c.logger.Info().Msg("price cache cleared")
}

func (c *Cache) fresh() ([]Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || c.now().Sub(c.snapshot.FetchedAt) >= c.ttl {
		return nil, false
	}
	return cloneQuotes(c.snapshot.Quotes), true
}

func (c *Cache) refresh(ctx context.Context) []Quote {
	fetchedAt := c.now().UTC()
	c.mu.RLock()
	generation := c.generation
	c.mu.RUnlock()

	quotes, err := c.fetch(ctx, fetchedAt)
	if err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.snapshot != nil {
			c.logger.Warn().Err(err).
				Time("fetched_at", c.snapshot.FetchedAt).
				Msg("price fetch failed; serving stale snapshot")
			return cloneQuotes(c.snapshot.Quotes)
		}
		c.logger.Error().Err(err).Msg("price fetch failed; no snapshot available")
		return []Quote{}
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		c.logger.Debug().Msg("cache cleared during fetch; result not installed")
		return cloneQuotes(quotes)
	}
	c.snapshot = &Snapshot{Quotes: quotes, FetchedAt: fetchedAt, TTL: c.ttl}
	c.mu.Unlock()

	c.logger.Info().Int("entries", len(quotes)).Dur("ttl", c.ttl).Msg("price cache refreshed")

	if c.history != nil && len(quotes) > 0 {
		if err := c.history.InsertQuotes(ctx, fetchedAt, quotes); err != nil {
			c.logger.Error().Err(err).Msg("failed to record price history")
		}
	}
	return cloneQuotes(quotes)
}

func (c *Cache) fetch(ctx context.Context, fetchedAt time.Time) ([]Quote, error) {
	const op = "pricing.fetch"

	raw, err := c.fetcher.FetchStablecoins(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFetch, op, err)
	}
	quotes, err := c.normalizer.Normalize(raw, fetchedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFetch, op, err)
	}
	return quotes, nil
}

func cloneQuotes(in []Quote) []Quote {
	out := make([]Quote, len(in))
	for i, q := range in {
		out[i] = q.clone()
	}
	return out
}
