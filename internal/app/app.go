package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stablecoin-payments/internal/alerting"
	"stablecoin-payments/internal/api"
	"stablecoin-payments/internal/chain"
	"stablecoin-payments/internal/config"
	"stablecoin-payments/internal/fetcher"
	"stablecoin-payments/internal/payment"
	"stablecoin-payments/internal/pricing"
	"stablecoin-payments/internal/service"
	"stablecoin-payments/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newGateway() *chain.EthGateway {
	cfg := a.Config.Chain
	return chain.NewEthGateway(chain.Options{
		RPCURL:             cfg.RPCURL,
		ContractAddress:    cfg.ContractAddress,
		PrivateKey:         cfg.PrivateKey,
		ChainID:            cfg.ChainID,
		Timeout:            cfg.RequestTimeout,
		GasLimit:           cfg.GasLimit,
		GasPriceMultiplier: cfg.GasPriceMultiplier,
	}, a.Logger)
}

func (a *App) newFetcher() *fetcher.Llama {
	cfg := a.Config.Prices
	return fetcher.NewLlama(fetcher.LlamaOptions{
		URL:       cfg.URL,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return nil
}

func (a *App) tokenTable() map[string]payment.Token {
	tokens := make(map[string]payment.Token, len(a.Config.Tokens))
	for symbol, token := range a.Config.Tokens {
		if token.Address == "" {
			continue
		}
		tokens[symbol] = payment.Token{
			Address:  common.HexToAddress(token.Address),
			Decimals: token.Decimals,
		}
	}
	return tokens
}

func (a *App) newTracker(gateway chain.Gateway, store payment.Store, notifier alerting.Notifier) *payment.Tracker {
	return payment.New(payment.Options{
		Tokens:                a.tokenTable(),
		RequiredConfirmations: a.Config.Chain.RequiredConfirmations,
	}, gateway, store, notifier, a.Logger)
}

func (a *App) newCache(history pricing.HistoryStore) *pricing.Cache {
	cfg := a.Config.Prices
	return pricing.NewCache(pricing.CacheOptions{
		TTL:           cfg.CacheTTL,
		Symbols:       cfg.TrackedSymbols,
		FallbackChain: cfg.FallbackChain,
	}, a.newFetcher(), history, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Serve runs the HTTP API together with the reconciler and price warmer
// until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var (
		paymentStore payment.Store
		history      pricing.HistoryStore
	)
	if store != nil {
		paymentStore = store
		history = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; payments are kept in memory only")
	}

	gateway := a.newGateway()
	defer gateway.Close()
	if !gateway.IsConnected(ctx) {
		a.Logger.Warn().Str("rpc_url", a.Config.Chain.RPCURL).Msg("blockchain gateway not reachable at startup")
	}

	tracker := a.newTracker(gateway, paymentStore, a.newNotifier())
	if _, err := tracker.Restore(ctx); err != nil {
		return err
	}
	cache := a.newCache(history)

	reconcileEvery := a.Config.Reconciler.Interval
	if !a.Config.Reconciler.Enabled {
		reconcileEvery = 0
	}
	svc := service.New(service.Options{
		ReconcileInterval:     reconcileEvery,
		ReconcileStartupDelay: a.Config.Reconciler.StartupDelay,
		WarmInterval:          a.Config.Prices.WarmInterval,
	}, tracker, cache, a.Logger)

	server := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      api.New(tracker, cache, gateway, a.Logger).Handler(api.Options{AllowedOrigins: a.Config.HTTP.AllowedOrigins}),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("server terminated with error")
		return err
	}

	a.Logger.Info().Msg("server stopped")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.Config.HTTP.ShutdownTimeout; d > 0 {
		return d
	}
	return 10 * time.Second
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Symbol    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// PricesOptions configure the prices command. A positive History prints the
// newest persisted samples instead of fetching.
type PricesOptions struct {
	History int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Status string
}

// SimulateOptions configure the settlement simulation.
type SimulateOptions struct {
	Recipient  string
	Amount     string
	Stablecoin string
	Revert     bool
}
