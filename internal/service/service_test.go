package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-payments/internal/pricing"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) RefreshSubmitted(ctx context.Context) (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

type countingPrices struct {
	calls  atomic.Int32
	quotes []pricing.Quote
}

func (p *countingPrices) Prices(ctx context.Context) []pricing.Quote {
	p.calls.Add(1)
	return p.quotes
}

func TestReconcileWrapsError(t *testing.T) {
	svc := New(Options{}, &countingRefresher{err: errors.New("boom")}, nil, zerolog.Nop())
	err := svc.Reconcile(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWarmRequiresQuotes(t *testing.T) {
	empty := New(Options{}, nil, &countingPrices{}, zerolog.Nop())
	assert.Error(t, empty.Warm(context.Background(), time.Now()))

	full := New(Options{}, nil, &countingPrices{quotes: []pricing.Quote{{Symbol: "USDC", PriceUSD: decimal.NewFromInt(1)}}}, zerolog.Nop())
	assert.NoError(t, full.Warm(context.Background(), time.Now()))
}

func TestRunDrivesJobsUntilCancelled(t *testing.T) {
	refresher := &countingRefresher{}
	prices := &countingPrices{quotes: []pricing.Quote{{Symbol: "USDC"}}}
	svc := New(Options{
		ReconcileInterval: 5 * time.Millisecond,
		WarmInterval:      time.Hour,
	}, refresher, prices, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, svc.Run(ctx))
	assert.GreaterOrEqual(t, refresher.calls.Load(), int32(2))
	assert.EqualValues(t, 1, prices.calls.Load(), "warmer runs once on start")
}

func TestRunWithNoJobs(t *testing.T) {
	svc := New(Options{}, nil, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, svc.Run(ctx))
}
