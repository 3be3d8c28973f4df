package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	paymentContractABIJSON = `[
{"inputs":[{"internalType":"address","name":"token","type":"address"}],"name":"isTokenAllowed","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"token","type":"address"},{"internalType":"address","name":"recipient","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"processPayment","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

	defaultGasLimit = 100_000
)

var (
	paymentContractABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(paymentContractABIJSON))
	if err != nil {
		panic("failed to parse payment contract ABI: " + err.Error())
	}
	paymentContractABI = parsed
}

// Options parameterise the go-ethereum backed gateway.
type Options struct {
	RPCURL             string
	ContractAddress    string
	PrivateKey         string
	ChainID            uint64
	Timeout            time.Duration
	GasLimit           uint64
	GasPriceMultiplier float64
}

// EthGateway talks to an EVM JSON-RPC endpoint and the payment contract.
type EthGateway struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex

	keyOnce sync.Once
	key     *ecdsa.PrivateKey
	keyErr  error
}

// NewEthGateway builds a gateway; the RPC connection is dialled lazily.
func NewEthGateway(opts Options, logger zerolog.Logger) *EthGateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.GasLimit == 0 {
		opts.GasLimit = defaultGasLimit
	}
	if opts.GasPriceMultiplier <= 0 {
		opts.GasPriceMultiplier = 1
	}
	return &EthGateway{opts: opts, logger: logger.With().Str("component", "chain_gateway").Logger()}
}

// IsConnected reports whether the RPC endpoint answers a chain id query.
func (g *EthGateway) IsConnected(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("rpc dial failed")
		return false
	}
	if _, err := client.ChainID(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("connection check failed")
		return false
	}
	return true
}

// IsTokenAllowed calls isTokenAllowed(address) on the payment contract.
func (g *EthGateway) IsTokenAllowed(ctx context.Context, token common.Address) (bool, error) {
	contract, err := g.contractAddress()
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return false, err
	}

	payload, err := paymentContractABI.Pack("isTokenAllowed", token)
	if err != nil {
		return false, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: payload}, nil)
	if err != nil {
		return false, fmt.Errorf("call isTokenAllowed: %w", err)
	}

	outputs, err := paymentContractABI.Unpack("isTokenAllowed", res)
	if err != nil {
		return false, fmt.Errorf("decode isTokenAllowed: %w", err)
	}
	if len(outputs) != 1 {
		return false, errors.New("unexpected isTokenAllowed response")
	}

	allowed, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode isTokenAllowed output")
	}
	return allowed, nil
}

// SendPayment signs and broadcasts a processPayment transaction.
func (g *EthGateway) SendPayment(ctx context.Context, transfer Transfer) (common.Hash, error) {
	contract, err := g.contractAddress()
	if err != nil {
		return common.Hash{}, err
	}
	key, err := g.signingKey()
	if err != nil {
		return common.Hash{}, err
	}

	atoms, err := toAtoms(transfer.Amount, transfer.Decimals)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := paymentContractABI.Pack("processPayment", transfer.Token, transfer.Recipient, atoms)
	if err != nil {
		return common.Hash{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}
	if g.opts.ChainID != 0 && chainID.Uint64() != g.opts.ChainID {
		g.logger.Warn().Uint64("expected", g.opts.ChainID).Str("actual", chainID.String()).Msg("chain id mismatch")
	}

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gas := g.opts.GasLimit
	estimate, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: data})
	if err != nil {
		g.logger.Warn().Err(err).Uint64("gas_limit", gas).Msg("gas estimation failed; using configured limit")
	} else {
		gas = uint64(float64(estimate) * g.opts.GasPriceMultiplier)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}

	g.logger.Info().
		Str("tx_hash", signed.Hash().Hex()).
		Str("token", transfer.Token.Hex()).
		Str("recipient", transfer.Recipient.Hex()).
		Str("amount", transfer.Amount.String()).
		Msg("payment transaction sent")
	return signed.Hash(), nil
}

// TransactionStatus derives state and confirmations from the receipt.
func (g *EthGateway) TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return TxStatus{}, err
	}

	receipt, err := client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return TxStatus{Hash: hash, State: TxPending}, nil
	}
	if err != nil {
		return TxStatus{}, fmt.Errorf("transaction receipt: %w", err)
	}

	latest, err := client.BlockNumber(ctx)
	if err != nil {
		return TxStatus{}, fmt.Errorf("block number: %w", err)
	}

	status := TxStatus{Hash: hash, State: TxFailed, GasUsed: receipt.GasUsed}
	if receipt.Status == types.ReceiptStatusSuccessful {
		status.State = TxSuccess
	}
	if receipt.BlockNumber != nil {
		block := receipt.BlockNumber.Uint64()
		status.BlockNumber = &block
		if latest > block {
			status.Confirmations = latest - block
		}
	}
	return status, nil
}

// NetworkInfo reports chain id, head, gas price and the signing account balance.
func (g *EthGateway) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	client, err := g.getClient(ctx)
	if err != nil {
		return NetworkInfo{}, err
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("chain id: %w", err)
	}
	latest, err := client.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("block number: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("gas price: %w", err)
	}

	info := NetworkInfo{
		ChainID:      chainID.Uint64(),
		LatestBlock:  latest,
		GasPriceGwei: decimal.NewFromBigInt(gasPrice, -9),
		BalanceETH:   decimal.Zero,
		Connected:    true,
	}

	if key, err := g.signingKey(); err == nil {
		account := crypto.PubkeyToAddress(key.PublicKey)
		info.Account = account.Hex()
		balance, err := client.BalanceAt(ctx, account, nil)
		if err != nil {
			return NetworkInfo{}, fmt.Errorf("account balance: %w", err)
		}
		info.BalanceETH = decimal.NewFromBigInt(balance, -18)
	}

	return info, nil
}

func (g *EthGateway) contractAddress() (common.Address, error) {
	if g.opts.RPCURL == "" {
		return common.Address{}, errors.New("rpc url not configured")
	}
	if !common.IsHexAddress(g.opts.ContractAddress) {
		return common.Address{}, errors.New("payment contract address not configured")
	}
	return common.HexToAddress(g.opts.ContractAddress), nil
}

func (g *EthGateway) signingKey() (*ecdsa.PrivateKey, error) {
	g.keyOnce.Do(func() {
		raw := strings.TrimPrefix(strings.TrimSpace(g.opts.PrivateKey), "0x")
		if raw == "" {
			g.keyErr = errors.New("signing key not configured")
			return
		}
		g.key, g.keyErr = crypto.HexToECDSA(raw)
		if g.keyErr != nil {
			g.keyErr = fmt.Errorf("parse signing key: %w", g.keyErr)
		}
	})
	return g.key, g.keyErr
}

func (g *EthGateway) getClient(ctx context.Context) (*ethclient.Client, error) {
	if g.opts.RPCURL == "" {
		return nil, errors.New("rpc url not configured")
	}

	g.clientMux.Lock()
	defer g.clientMux.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	client, err := ethclient.DialContext(ctx, g.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// Close releases the RPC connection.
func (g *EthGateway) Close() {
	g.clientMux.Lock()
	defer g.clientMux.Unlock()
	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
}

func toAtoms(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, errors.New("transfer amount must be positive")
	}
	atoms := amount.Shift(decimals)
	if !atoms.Equal(atoms.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds token precision of %d decimals", amount.String(), decimals)
	}
	return atoms.BigInt(), nil
}

var _ Gateway = (*EthGateway)(nil)
