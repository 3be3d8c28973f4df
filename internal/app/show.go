package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"stablecoin-payments/internal/payment"
)

// Show prints recent persisted payments, optionally filtered by status.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	var filter payment.Status
	if opts.Status != "" {
		status, err := payment.ParseStatus(opts.Status)
		if err != nil {
			return err
		}
		filter = status
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show payments")
	}
	if closeStore != nil {
		defer closeStore()
	}

	return a.show(ctx, store, opts.Limit, filter)
}

type paymentLister interface {
	ListRecentPayments(ctx context.Context, limit int) ([]payment.Record, error)
	CountPayments(ctx context.Context) (int64, error)
}

func (a *App) show(ctx context.Context, store paymentLister, limit int, filter payment.Status) error {
	total, err := store.CountPayments(ctx)
	if err != nil {
		return err
	}
	records, err := store.ListRecentPayments(ctx, limit)
	if err != nil {
		return err
	}
	if filter != "" {
		kept := records[:0]
		for _, rec := range records {
			if rec.Status == filter {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	if len(records) == 0 {
		fmt.Fprintf(a.Out, "no payments found (%d stored)\n", total)
		return nil
	}

	fmt.Fprintf(a.Out, "showing %d of %d stored payments\n\n", len(records), total)
	writeRecords(a.Out, records)
	return nil
}

func writeRecords(out io.Writer, records []payment.Record) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tPayment ID\tAmount\tCoin\tStatus\tConfirmations\tGas\tTx\tError")

	for _, rec := range records {
		tx := "-"
		if rec.TransactionHash != nil {
			tx = rec.TransactionHash.Hex()
		}
		gas := "-"
		if rec.GasUsed > 0 {
			gas = strconv.FormatUint(rec.GasUsed, 10)
		}
		errMsg := ""
		if rec.Error != nil {
			errMsg = sanitizeInline(*rec.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.PaymentID,
			formatDecimal(rec.Amount, 2),
			rec.Symbol,
			rec.Status,
			rec.Confirmations,
			gas,
			tx,
			errMsg,
		)
	}

	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
