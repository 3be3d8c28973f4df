package payment

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"stablecoin-payments/internal/apperr"
)

// Status is a payment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusPending, StatusSubmitted, StatusSuccess, StatusFailed, StatusCancelled}

// ParseStatus maps user input onto a known status.
func ParseStatus(raw string) (Status, error) {
	candidate := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, s := range Statuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", apperr.New(apperr.KindValidation, "payment.ParseStatus", "invalid status %q", raw)
}

// Terminal reports whether completedAt must be set for this status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Record is one registered payment intent.
type Record struct {
	PaymentID        string          `json:"payment_id"`
	TransactionHash  *common.Hash    `json:"tx_hash"`
	RecipientAddress common.Address  `json:"recipient"`
	Amount           decimal.Decimal `json:"amount"`
	Symbol           string          `json:"stablecoin"`
	TokenAddress     common.Address  `json:"token_address"`
	Status           Status          `json:"status"`
	Confirmations    uint64          `json:"confirmations"`
	BlockNumber      *uint64         `json:"block_number"`
	GasUsed          uint64          `json:"gas_used"`
	Description      string          `json:"description"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	Error            *string         `json:"error"`
	// Revision increases with every mutation. Stores must not let a lower
	// revision overwrite a higher one.
	Revision         uint64          `json:"revision"`
}

func (r *Record) clone() Record {
	out := *r
	if r.TransactionHash != nil {
		h := *r.TransactionHash
		out.TransactionHash = &h
	}
	if r.BlockNumber != nil {
		b := *r.BlockNumber
		out.BlockNumber = &b
	}
	if r.CompletedAt != nil {
		c := *r.CompletedAt
		out.CompletedAt = &c
	}
	if r.Error != nil {
		e := *r.Error
		out.Error = &e
	}
	return out
}

// CreateRequest carries the caller-supplied fields of a new payment.
type CreateRequest struct {
	RecipientAddress string          `json:"recipient_address"`
	Amount           decimal.Decimal `json:"amount"`
	Stablecoin       string          `json:"stablecoin"`
	Description      string          `json:"description"`
}

// Lookup selects a payment by exactly one of its keys.
type Lookup struct {
	PaymentID string
	TxHash    string
}

// Statistics aggregates the tracker's current records.
type Statistics struct {
	TotalCount       int             `json:"total_payments"`
	PerStatus        map[Status]int  `json:"per_status"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	SuccessfulAmount decimal.Decimal `json:"successful_amount"`
}

// Token is the static configuration of one supported stablecoin.
type Token struct {
	Address  common.Address
	Decimals int32
}

// Store persists records outside the process.
type Store interface {
	UpsertPayment(ctx context.Context, record Record) error
	ListPayments(ctx context.Context) ([]Record, error)
}
