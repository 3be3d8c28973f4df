package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-payments/internal/payment"
)

func TestPaymentRowRoundTrip(t *testing.T) {
	hash := common.HexToHash("0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12")
	block := uint64(4_200_001)
	completed := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	record := payment.Record{
		PaymentID:        "4b0c6f0e-3c55-4a7a-9d0e-6d1d2b6b9c11",
		TransactionHash:  &hash,
		RecipientAddress: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Amount:           decimal.RequireFromString("250.75"),
		Symbol:           "DAI",
		TokenAddress:     common.HexToAddress("0x3e622317f8C93f7328350cF0B56d9eD4C620C5d6"),
		Status:           payment.StatusSuccess,
		Confirmations:    14,
		BlockNumber:      &block,
		Description:      "payroll",
		CreatedAt:        completed.Add(-time.Hour),
		CompletedAt:      &completed,
		GasUsed:          48_512,
		Revision:         4,
	}

	row := toPaymentRow(record)
	require.NotNil(t, row.TxHash)
	assert.Equal(t, hash.Hex(), *row.TxHash)
	assert.Equal(t, "250.75", row.Amount)
	assert.Equal(t, "success", row.Status)

	back, err := fromPaymentRow(row)
	require.NoError(t, err)
	assert.Equal(t, record.PaymentID, back.PaymentID)
	assert.Equal(t, record.TransactionHash, back.TransactionHash)
	assert.Equal(t, record.RecipientAddress, back.RecipientAddress)
	assert.True(t, record.Amount.Equal(back.Amount))
	assert.Equal(t, record.Status, back.Status)
	assert.Equal(t, record.BlockNumber, back.BlockNumber)
	assert.Equal(t, record.CompletedAt, back.CompletedAt)
	assert.Equal(t, uint64(48_512), back.GasUsed)
	assert.Equal(t, uint64(4), back.Revision)
	assert.Nil(t, back.Error)
}

func TestUpsertKeepsNewerRevision(t *testing.T) {
	assert.Contains(t, upsertPaymentSQL, "WHERE payments.revision < EXCLUDED.revision")
}

func TestFromPaymentRowRejectsBadData(t *testing.T) {
	_, err := fromPaymentRow(paymentRow{PaymentID: "x", Amount: "abc", Status: "pending"})
	assert.Error(t, err)

	_, err = fromPaymentRow(paymentRow{PaymentID: "x", Amount: "1", Status: "settled"})
	assert.Error(t, err)
}

func TestStoreWithoutPool(t *testing.T) {
	var s *Store
	ctx := context.Background()

	assert.ErrorIs(t, s.UpsertPayment(ctx, payment.Record{}), ErrNotConfigured)
	_, err := s.ListPayments(ctx)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, s.InsertQuotes(ctx, time.Now(), nil), ErrNotConfigured)
	assert.ErrorIs(t, s.EnsureSchema(ctx), ErrNotConfigured)
	s.Close()
}
