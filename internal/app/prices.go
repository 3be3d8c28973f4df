package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"stablecoin-payments/internal/storage"
)

// Prices performs one fetch through the cache and prints the quotes, or
// prints recorded history when opts.History is set.
func (a *App) Prices(ctx context.Context, opts PricesOptions) error {
	if opts.History > 0 {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; cannot show price history")
		}
		if closeStore != nil {
			defer closeStore()
		}
		return a.printHistory(ctx, store, opts.History)
	}

	cache := a.newCache(nil)

	quotes := cache.Prices(ctx)
	if len(quotes) == 0 {
		return fmt.Errorf("no stablecoin prices available from %s", a.Config.Prices.URL)
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPrice (USD)\tMarket Cap\t24h %\tChains")
	for _, q := range quotes {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			q.Symbol,
			q.Name,
			formatDecimal(q.PriceUSD, 4),
			q.MarketCap,
			formatDecimal(q.Change24h, 2),
			summarizeChains(q.Chains, 4),
		)
	}
	return writer.Flush()
}

type quoteLister interface {
	ListRecentQuotes(ctx context.Context, limit int) ([]storage.PriceSample, error)
}

func (a *App) printHistory(ctx context.Context, store quoteLister, limit int) error {
	samples, err := store.ListRecentQuotes(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(a.Out, "no price history recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fetched (UTC)\tSymbol\tPrice (USD)\tMarket Cap (USD)\t24h %")
	for _, s := range samples {
		mcap := "N/A"
		if s.MarketCapUSD != nil {
			mcap = formatDecimal(*s.MarketCapUSD, 0)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			s.FetchedAt.UTC().Format(time.RFC3339),
			s.Symbol,
			formatDecimal(s.PriceUSD, 4),
			mcap,
			formatDecimal(s.Change24h, 2),
		)
	}
	return writer.Flush()
}

func summarizeChains(chains []string, max int) string {
	if len(chains) <= max {
		return strings.Join(chains, ",")
	}
	return fmt.Sprintf("%s (+%d)", strings.Join(chains[:max], ","), len(chains)-max)
}
