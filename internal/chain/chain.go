package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// TxState is the on-chain state of a submitted transaction.
type TxState string

const (
	TxPending TxState = "pending"
	TxSuccess TxState = "success"
	TxFailed  TxState = "failed"
)

// TxStatus is the gateway's view of a transaction.
type TxStatus struct {
	Hash          common.Hash
	State         TxState
	Confirmations uint64
	BlockNumber   *uint64
	GasUsed       uint64
}

// Transfer describes a stablecoin payment to push through the payment contract.
type Transfer struct {
	Token     common.Address
	Recipient common.Address
	Amount    decimal.Decimal
	Decimals  int32
}

// NetworkInfo summarises the connected network and signing account.
type NetworkInfo struct {
	ChainID      uint64          `json:"chain_id"`
	LatestBlock  uint64          `json:"latest_block"`
	GasPriceGwei decimal.Decimal `json:"gas_price_gwei"`
	Account      string          `json:"account"`
	BalanceETH   decimal.Decimal `json:"balance_eth"`
	Connected    bool            `json:"is_connected"`
}

// Gateway is the blockchain collaborator used by the payment tracker.
type Gateway interface {
	IsConnected(ctx context.Context) bool
	IsTokenAllowed(ctx context.Context, token common.Address) (bool, error)
	SendPayment(ctx context.Context, transfer Transfer) (common.Hash, error)
	TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error)
	NetworkInfo(ctx context.Context) (NetworkInfo, error)
}
