package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stablecoin-payments/internal/pricing"
	"stablecoin-payments/internal/scheduler"
)

// PaymentRefresher reconciles submitted payments against the chain.
type PaymentRefresher interface {
	RefreshSubmitted(ctx context.Context) (int, error)
}

// PriceSource is refreshed ahead of callers by the warmer job.
type PriceSource interface {
	Prices(ctx context.Context) []pricing.Quote
}

// Options select which background jobs run.
type Options struct {
	ReconcileInterval     time.Duration
	ReconcileStartupDelay time.Duration
	WarmInterval          time.Duration
}

// Service runs the background jobs that keep payments and prices current.
type Service struct {
	payments PaymentRefresher
	prices   PriceSource
	opts     Options
	logger   zerolog.Logger
}

// New constructs the background job service. A zero interval disables the
// corresponding job.
func New(opts Options, payments PaymentRefresher, prices PriceSource, logger zerolog.Logger) *Service {
	return &Service{
		payments: payments,
		prices:   prices,
		opts:     opts,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Run blocks until ctx is cancelled or a job fails for a reason other than
// cancellation.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	started := 0

	if s.payments != nil && s.opts.ReconcileInterval > 0 {
		sched := scheduler.New(scheduler.Options{
			Name:         "reconciler",
			Interval:     s.opts.ReconcileInterval,
			StartupDelay: s.opts.ReconcileStartupDelay,
		}, s.logger)
		g.Go(func() error { return sched.Run(gctx, s.Reconcile) })
		started++
	}

	if s.prices != nil && s.opts.WarmInterval > 0 {
		sched := scheduler.New(scheduler.Options{
			Name:       "price_warmer",
			Interval:   s.opts.WarmInterval,
			RunOnStart: true,
		}, s.logger)
		g.Go(func() error { return sched.Run(gctx, s.Warm) })
		started++
	}

	if started == 0 {
		s.logger.Info().Msg("no background jobs enabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info().Int("jobs", started).Msg("background jobs started")
	if err := g.Wait(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Reconcile refreshes every submitted payment once.
func (s *Service) Reconcile(ctx context.Context, at time.Time) error {
	settled, err := s.payments.RefreshSubmitted(ctx)
	if err != nil {
		return fmt.Errorf("refresh submitted payments: %w", err)
	}
	if settled > 0 {
		s.logger.Info().Time("tick", at).Int("settled", settled).Msg("payments reconciled")
	}
	return nil
}

// Warm pulls prices through the cache so a fresh snapshot is in place.
func (s *Service) Warm(ctx context.Context, at time.Time) error {
	quotes := s.prices.Prices(ctx)
	if len(quotes) == 0 {
		return fmt.Errorf("price warm-up returned no quotes")
	}
	s.logger.Debug().Time("tick", at).Int("quotes", len(quotes)).Msg("price cache warmed")
	return nil
}
