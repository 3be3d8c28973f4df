package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stablecoin-payments/internal/chain"
	"stablecoin-payments/internal/payment"
)

const simulatedBlock = 1_000_000

// SimulateSettlement drives one payment through create, send and settlement
// against an in-process gateway so the notification path can be checked
// without touching a real chain.
func (a *App) SimulateSettlement(ctx context.Context, opts SimulateOptions) (payment.Record, error) {
	if !a.Config.Alerting.Enabled {
		return payment.Record{}, errors.New("alerting not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return payment.Record{}, errors.New("no notification channel configured")
	}

	amount, err := decimal.NewFromString(opts.Amount)
	if err != nil {
		return payment.Record{}, fmt.Errorf("invalid amount %q: %w", opts.Amount, err)
	}

	gateway := chain.NewStaticGateway()
	tracker := a.newTracker(gateway, nil, notifier)

	rec, err := tracker.Create(ctx, payment.CreateRequest{
		RecipientAddress: opts.Recipient,
		Amount:           amount,
		Stablecoin:       opts.Stablecoin,
		Description:      "simulated settlement",
	})
	if err != nil {
		return payment.Record{}, err
	}

	rec, err = tracker.Send(ctx, rec.PaymentID)
	if err != nil {
		return rec, err
	}

	gateway.Mine(*rec.TransactionHash, simulatedBlock, a.Config.Chain.RequiredConfirmations, opts.Revert)

	rec, err = tracker.Status(ctx, payment.Lookup{PaymentID: rec.PaymentID})
	if err != nil {
		return rec, err
	}

	a.Logger.Info().
		Str("payment_id", rec.PaymentID).
		Str("status", string(rec.Status)).
		Msg("simulated settlement complete")
	writeRecords(a.Out, []payment.Record{rec})
	return rec, nil
}
