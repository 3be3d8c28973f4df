package fetcher

import (
	"context"
	"encoding/json"
)

// StablecoinFetcher retrieves the raw stablecoin listing from an upstream aggregator.
type StablecoinFetcher interface {
	FetchStablecoins(ctx context.Context) (json.RawMessage, error)
}
