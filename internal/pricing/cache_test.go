package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-payments/internal/apperr"
)

const listing = `{"peggedAssets":[
	{"symbol":"USDC","name":"USD Coin","price":1.0,"marketCap":33000000000},
	{"symbol":"USDT","name":"Tether","price":0.9995},
	{"symbol":"BUSD","price":1.0}
]}`

type scriptedFetcher struct {
	calls atomic.Int32
	mu    sync.Mutex
	body  string
	err   error
	delay time.Duration

	entered chan struct{}
	gate    chan struct{}
}

func (f *scriptedFetcher) FetchStablecoins(ctx context.Context) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.body), nil
}

func (f *scriptedFetcher) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type historySink struct {
	mu      sync.Mutex
	batches [][]Quote
}

func (h *historySink) InsertQuotes(ctx context.Context, fetchedAt time.Time, quotes []Quote) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, quotes)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(f *scriptedFetcher, history HistoryStore) (*Cache, *clock) {
	clk := &clock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	c := NewCache(CacheOptions{
		TTL:     300 * time.Second,
		Symbols: []string{"USDC", "USDT", "DAI"},
	}, f, history, zerolog.Nop())
	c.now = clk.Now
	return c, clk
}

func TestCacheHitSkipsUpstream(t *testing.T) {
	f := &scriptedFetcher{body: listing}
	history := &historySink{}
	c, clk := newTestCache(f, history)
	ctx := context.Background()

	first := c.Prices(ctx)
	require.Len(t, first, 2)
	assert.Equal(t, "USDC", first[0].Symbol)
	assert.Equal(t, "USDT", first[1].Symbol)

	clk.Advance(299 * time.Second)
	second := c.Prices(ctx)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.calls.Load())
	assert.Len(t, history.batches, 1)

	clk.Advance(time.Second)
	c.Prices(ctx)
	assert.EqualValues(t, 2, f.calls.Load(), "ttl boundary is exclusive")
}

func TestCacheStaleFallback(t *testing.T) {
	f := &scriptedFetcher{body: listing}
	c, clk := newTestCache(f, nil)
	ctx := context.Background()

	fresh := c.Prices(ctx)
	require.Len(t, fresh, 2)

	f.fail(errors.New("upstream down"))
	clk.Advance(10 * time.Minute)

	stale := c.Prices(ctx)
	assert.Equal(t, fresh, stale)

	info := c.Info()
	assert.False(t, info.Valid)
	assert.Equal(t, 2, info.Entries)
	assert.InDelta(t, 600, info.AgeSeconds, 0.001)
}

func TestCacheEmptyWhenFirstFetchFails(t *testing.T) {
	f := &scriptedFetcher{err: errors.New("timeout")}
	c, _ := newTestCache(f, nil)

	quotes := c.Prices(context.Background())
	assert.NotNil(t, quotes)
	assert.Empty(t, quotes)
	assert.False(t, c.Info().Valid)
	assert.Nil(t, c.Info().FetchedAt)
}

func TestCacheMalformedBodyFallsBack(t *testing.T) {
	f := &scriptedFetcher{body: `{"unexpected":true}`}
	c, _ := newTestCache(f, nil)
	assert.Empty(t, c.Prices(context.Background()))
}

func TestCacheClearForcesFetch(t *testing.T) {
	f := &scriptedFetcher{body: listing}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	c.Prices(ctx)
	c.Clear()
	assert.Equal(t, 0, c.Info().Entries)

	c.Prices(ctx)
	assert.EqualValues(t, 2, f.calls.Load())
}

func waitFetch(t *testing.T, f *scriptedFetcher) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream fetch did not start")
	}
}

func TestCacheClearDuringFetch(t *testing.T) {
	f := &scriptedFetcher{body: listing, entered: make(chan struct{}, 4), gate: make(chan struct{})}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	before := make(chan []Quote, 1)
	go func() { before <- c.Prices(ctx) }()
	waitFetch(t, f)

	c.Clear()

	after := make(chan []Quote, 1)
	go func() { after <- c.Prices(ctx) }()
	waitFetch(t, f)

	close(f.gate)
	assert.Len(t, <-before, 2)
	assert.Len(t, <-after, 2)
	assert.EqualValues(t, 2, f.calls.Load(), "a call after Clear must not join the earlier fetch")

	info := c.Info()
	assert.True(t, info.Valid)
	assert.Equal(t, 2, info.Entries)
}

func TestCacheClearDropsInFlightResult(t *testing.T) {
	f := &scriptedFetcher{body: listing, entered: make(chan struct{}, 4), gate: make(chan struct{})}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	done := make(chan []Quote, 1)
	go func() { done <- c.Prices(ctx) }()
	waitFetch(t, f)

	c.Clear()
	close(f.gate)
	assert.Len(t, <-done, 2)

	info := c.Info()
	assert.False(t, info.Valid)
	assert.Nil(t, info.FetchedAt)

	c.Prices(ctx)
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestCacheConcurrentMissesCollapse(t *testing.T) {
	f := &scriptedFetcher{body: listing, delay: 50 * time.Millisecond}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, c.Prices(ctx), 2)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestCacheQuote(t *testing.T) {
	f := &scriptedFetcher{body: listing}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	q, ok, err := c.Quote(ctx, "usdt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Tether", q.Name)

	_, ok, err = c.Quote(ctx, "DAI")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = c.Quote(ctx, "BUSD")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCacheReturnsCopies(t *testing.T) {
	f := &scriptedFetcher{body: listing}
	c, _ := newTestCache(f, nil)
	ctx := context.Background()

	first := c.Prices(ctx)
	first[0].Chains[0] = "mutated"

	again := c.Prices(ctx)
	assert.Equal(t, []string{"scroll"}, again[0].Chains)
}
