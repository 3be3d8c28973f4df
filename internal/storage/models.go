package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one persisted stablecoin quote from a single fetch.
type PriceSample struct {
	ID           int64
	Symbol       string
	PriceUSD     decimal.Decimal
	MarketCapUSD *decimal.Decimal
	Change24h    decimal.Decimal
	FetchedAt    time.Time
	CreatedAt    time.Time
}

// paymentRow mirrors the payments table column for column.
type paymentRow struct {
	PaymentID     string
	TxHash        *string
	Recipient     string
	Amount        string
	Stablecoin    string
	TokenAddress  string
	Status        string
	Confirmations int64
	BlockNumber   *int64
	Description   string
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Error         *string
	GasUsed       int64
	Revision      int64
}
