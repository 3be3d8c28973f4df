package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SimulatedGasUsed is reported for every transaction mined by StaticGateway.
const SimulatedGasUsed = 48_512

// StaticGateway is an in-memory Gateway with scripted outcomes. It backs the
// settlement simulation command and the tracker tests.
type StaticGateway struct {
	mu sync.Mutex

	// Allowed lists tokens the simulated contract accepts. A nil map allows all.
	Allowed map[common.Address]bool
	// AllowedErr, SendErr and StatusErr force the corresponding call to fail.
	AllowedErr error
	SendErr    error
	StatusErr  error
	Info       NetworkInfo

	sent     []Transfer
	statuses map[common.Hash]TxStatus
}

// NewStaticGateway returns a gateway that accepts every token.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{
		Info:     NetworkInfo{Connected: true},
		statuses: make(map[common.Hash]TxStatus),
	}
}

func (g *StaticGateway) IsConnected(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Info.Connected
}

func (g *StaticGateway) IsTokenAllowed(ctx context.Context, token common.Address) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.AllowedErr != nil {
		return false, g.AllowedErr
	}
	if g.Allowed == nil {
		return true, nil
	}
	return g.Allowed[token], nil
}

// SendPayment records the transfer and returns a deterministic hash derived
// from the send sequence.
func (g *StaticGateway) SendPayment(ctx context.Context, transfer Transfer) (common.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SendErr != nil {
		return common.Hash{}, g.SendErr
	}
	g.sent = append(g.sent, transfer)
	hash := crypto.Keccak256Hash(transfer.Token.Bytes(), transfer.Recipient.Bytes(), []byte(transfer.Amount.String()), []byte{byte(len(g.sent))})
	g.statuses[hash] = TxStatus{Hash: hash, State: TxPending}
	return hash, nil
}

func (g *StaticGateway) TransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StatusErr != nil {
		return TxStatus{}, g.StatusErr
	}
	status, ok := g.statuses[hash]
	if !ok {
		return TxStatus{}, fmt.Errorf("%w: %s", ethereum.NotFound, hash.Hex())
	}
	return status, nil
}

func (g *StaticGateway) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Info, nil
}

// Mine marks a previously sent transaction as included at block with the
// given confirmation count.
func (g *StaticGateway) Mine(hash common.Hash, block, confirmations uint64, reverted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := TxSuccess
	if reverted {
		state = TxFailed
	}
	g.statuses[hash] = TxStatus{
		Hash:          hash,
		State:         state,
		Confirmations: confirmations,
		BlockNumber:   &block,
		GasUsed:       SimulatedGasUsed,
	}
	if block+confirmations > g.Info.LatestBlock {
		g.Info.LatestBlock = block + confirmations
	}
}

// Sent returns a copy of every transfer accepted so far.
func (g *StaticGateway) Sent() []Transfer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Transfer(nil), g.sent...)
}

var _ Gateway = (*StaticGateway)(nil)
