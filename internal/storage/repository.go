package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stablecoin-payments/internal/payment"
	"stablecoin-payments/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertPaymentSQL = `INSERT INTO payments (
        payment_id,
        tx_hash,
        recipient,
        amount,
        stablecoin,
        token_address,
        status,
        confirmations,
        block_number,
        description,
        created_at,
        completed_at,
        error,
        gas_used,
        revision
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (payment_id) DO UPDATE
    SET
        tx_hash       = EXCLUDED.tx_hash,
        status        = EXCLUDED.status,
        confirmations = EXCLUDED.confirmations,
        block_number  = EXCLUDED.block_number,
        completed_at  = EXCLUDED.completed_at,
        error         = EXCLUDED.error,
        gas_used      = EXCLUDED.gas_used,
        revision      = EXCLUDED.revision,
        updated_at    = now()
    WHERE payments.revision < EXCLUDED.revision;`

	selectPaymentColumns = `SELECT
        payment_id,
        tx_hash,
        recipient,
        amount::text,
        stablecoin,
        token_address,
        status,
        confirmations,
        block_number,
        description,
        created_at,
        completed_at,
        error,
        gas_used,
        revision
    FROM payments`

	listPaymentsSQL       = selectPaymentColumns + ` ORDER BY created_at, payment_id;`
	listRecentPaymentsSQL = selectPaymentColumns + ` ORDER BY created_at DESC LIMIT $1;`

	insertQuoteSQL = `INSERT INTO price_quotes (
        symbol,
        price_usd,
        market_cap_usd,
        change_24h,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (symbol, fetched_at) DO NOTHING;`

	selectQuoteColumns = `SELECT
        id,
        symbol,
        price_usd::text,
        market_cap_usd::text,
        change_24h::text,
        fetched_at,
        created_at
    FROM price_quotes`

	listQuotesBetweenSQL = selectQuoteColumns + `
    WHERE ($1 = '' OR symbol = $1)
      AND fetched_at >= $2
      AND fetched_at < $3
    ORDER BY fetched_at, symbol;`

	listRecentQuotesSQL = selectQuoteColumns + ` ORDER BY fetched_at DESC, symbol LIMIT $1;`

	countPaymentsSQL = `SELECT COUNT(*) FROM payments;`
)

// Store persists payments and price history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertPayment inserts a payment or updates its mutable columns. Rows already
// holding an equal or newer revision are left untouched.
func (s *Store) UpsertPayment(ctx context.Context, record payment.Record) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	row := toPaymentRow(record)
	_, execErr := pool.Exec(ctx, upsertPaymentSQL,
		row.PaymentID,
		row.TxHash,
		row.Recipient,
		row.Amount,
		row.Stablecoin,
		row.TokenAddress,
		row.Status,
		row.Confirmations,
		row.BlockNumber,
		row.Description,
		row.CreatedAt,
		row.CompletedAt,
		row.Error,
		row.GasUsed,
		row.Revision,
	)
	if execErr != nil {
		return fmt.Errorf("upsert payment: %w", execErr)
	}
	return nil
}

// ListPayments returns every payment in creation order.
func (s *Store) ListPayments(ctx context.Context) ([]payment.Record, error) {
	return s.queryPayments(ctx, "list payments", listPaymentsSQL)
}

// ListRecentPayments returns the newest payments first.
func (s *Store) ListRecentPayments(ctx context.Context, limit int) ([]payment.Record, error) {
	return s.queryPayments(ctx, "list recent payments", listRecentPaymentsSQL, limit)
}

// CountPayments counts stored payments.
func (s *Store) CountPayments(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPaymentsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count payments: %w", scanErr)
	}
	return count, nil
}

func (s *Store) queryPayments(ctx context.Context, op, query string, args ...any) ([]payment.Record, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	records := make([]payment.Record, 0)
	for rows.Next() {
		var row paymentRow
		if err := rows.Scan(
			&row.PaymentID,
			&row.TxHash,
			&row.Recipient,
			&row.Amount,
			&row.Stablecoin,
			&row.TokenAddress,
			&row.Status,
			&row.Confirmations,
			&row.BlockNumber,
			&row.Description,
			&row.CreatedAt,
			&row.CompletedAt,
			&row.Error,
			&row.GasUsed,
			&row.Revision,
		); err != nil {
			return nil, err
		}
		record, convErr := fromPaymentRow(row)
		if convErr != nil {
			return nil, convErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertQuotes records one fetch worth of quotes in a single batch.
func (s *Store) InsertQuotes(ctx context.Context, fetchedAt time.Time, quotes []pricing.Quote) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, q := range quotes {
		var mcap any
		if q.MarketCapUSD.IsPositive() {
			mcap = q.MarketCapUSD.String()
		}
		batch.Queue(insertQuoteSQL, q.Symbol, q.PriceUSD.String(), mcap, q.Change24h.String(), fetchedAt)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert quotes: %w", err)
	}
	return nil
}

// ListQuotesBetween lists samples in [from, to). An empty symbol matches all.
func (s *Store) ListQuotesBetween(ctx context.Context, symbol string, from, to time.Time) ([]PriceSample, error) {
	return s.queryQuotes(ctx, "list quotes between", listQuotesBetweenSQL, strings.ToUpper(symbol), from, to)
}

// ListRecentQuotes lists the newest samples first.
func (s *Store) ListRecentQuotes(ctx context.Context, limit int) ([]PriceSample, error) {
	return s.queryQuotes(ctx, "list recent quotes", listRecentQuotesSQL, limit)
}

func (s *Store) queryQuotes(ctx context.Context, op, query string, args ...any) ([]PriceSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSample, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSample, error) {
	var (
		sample    PriceSample
		priceStr  string
		mcapStr   sql.NullString
		changeStr string
	)
	if err := rows.Scan(
		&sample.ID,
		&sample.Symbol,
		&priceStr,
		&mcapStr,
		&changeStr,
		&sample.FetchedAt,
		&sample.CreatedAt,
	); err != nil {
		return PriceSample{}, err
	}

	var err error
	if sample.PriceUSD, err = decimal.NewFromString(priceStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse price: %w", err)
	}
	if sample.Change24h, err = decimal.NewFromString(changeStr); err != nil {
		return PriceSample{}, fmt.Errorf("parse change_24h: %w", err)
	}
	if mcapStr.Valid {
		mcap, err := decimal.NewFromString(mcapStr.String)
		if err != nil {
			return PriceSample{}, fmt.Errorf("parse market cap: %w", err)
		}
		sample.MarketCapUSD = &mcap
	}
	return sample, nil
}

func toPaymentRow(record payment.Record) paymentRow {
	row := paymentRow{
		PaymentID:     record.PaymentID,
		Recipient:     record.RecipientAddress.Hex(),
		Amount:        record.Amount.String(),
		Stablecoin:    record.Symbol,
		TokenAddress:  record.TokenAddress.Hex(),
		Status:        string(record.Status),
		Confirmations: int64(record.Confirmations),
		Description:   record.Description,
		CreatedAt:     record.CreatedAt,
		CompletedAt:   record.CompletedAt,
		Error:         record.Error,
		GasUsed:       int64(record.GasUsed),
		Revision:      int64(record.Revision),
	}
	if record.TransactionHash != nil {
		hash := record.TransactionHash.Hex()
		row.TxHash = &hash
	}
	if record.BlockNumber != nil {
		block := int64(*record.BlockNumber)
		row.BlockNumber = &block
	}
	return row
}

func fromPaymentRow(row paymentRow) (payment.Record, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return payment.Record{}, fmt.Errorf("parse amount of %s: %w", row.PaymentID, err)
	}
	status, err := payment.ParseStatus(row.Status)
	if err != nil {
		return payment.Record{}, fmt.Errorf("payment %s: %w", row.PaymentID, err)
	}

	record := payment.Record{
		PaymentID:        row.PaymentID,
		RecipientAddress: common.HexToAddress(row.Recipient),
		Amount:           amount,
		Symbol:           row.Stablecoin,
		TokenAddress:     common.HexToAddress(row.TokenAddress),
		Status:           status,
		Description:      row.Description,
		CreatedAt:        row.CreatedAt.UTC(),
		Error:            row.Error,
	}
	if row.Confirmations > 0 {
		record.Confirmations = uint64(row.Confirmations)
	}
	if row.GasUsed > 0 {
		record.GasUsed = uint64(row.GasUsed)
	}
	if row.Revision > 0 {
		record.Revision = uint64(row.Revision)
	}
	if row.TxHash != nil {
		hash := common.HexToHash(*row.TxHash)
		record.TransactionHash = &hash
	}
	if row.BlockNumber != nil && *row.BlockNumber >= 0 {
		block := uint64(*row.BlockNumber)
		record.BlockNumber = &block
	}
	if row.CompletedAt != nil {
		completed := row.CompletedAt.UTC()
		record.CompletedAt = &completed
	}
	return record, nil
}

var (
	_ payment.Store        = (*Store)(nil)
	_ pricing.HistoryStore = (*Store)(nil)
)
