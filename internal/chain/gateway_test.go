package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer answers JSON-RPC calls from a method -> result table.
func newRPCServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "method not found: " + req.Method},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayMissingConfig(t *testing.T) {
	gw := NewEthGateway(Options{}, zerolog.Nop())
	_, err := gw.IsTokenAllowed(context.Background(), common.HexToAddress("0x1"))
	require.Error(t, err)

	gw = NewEthGateway(Options{RPCURL: "http://localhost"}, zerolog.Nop())
	_, err = gw.IsTokenAllowed(context.Background(), common.HexToAddress("0x1"))
	require.Error(t, err, "missing contract address should fail")

	gw = NewEthGateway(Options{RPCURL: "http://localhost", ContractAddress: testContract}, zerolog.Nop())
	_, err = gw.SendPayment(context.Background(), Transfer{Amount: decimal.NewFromInt(1), Decimals: 6})
	require.ErrorContains(t, err, "signing key not configured")
}

func TestGatewayIsTokenAllowed(t *testing.T) {
	srv := newRPCServer(t, map[string]any{
		"eth_call": "0x" + strings.Repeat("0", 63) + "1",
	})

	gw := NewEthGateway(Options{RPCURL: srv.URL, ContractAddress: testContract, Timeout: time.Second}, zerolog.Nop())
	defer gw.Close()

	allowed, err := gw.IsTokenAllowed(context.Background(), common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGatewayTransactionStatusPending(t *testing.T) {
	srv := newRPCServer(t, map[string]any{
		"eth_getTransactionReceipt": nil,
	})

	gw := NewEthGateway(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer gw.Close()

	status, err := gw.TransactionStatus(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, TxPending, status.State)
	assert.Zero(t, status.Confirmations)
	assert.Nil(t, status.BlockNumber)
}

func TestGatewayTransactionStatusMined(t *testing.T) {
	hash := common.HexToHash("0x" + strings.Repeat("ab", 32))
	srv := newRPCServer(t, map[string]any{
		"eth_getTransactionReceipt": map[string]any{
			"type":              "0x0",
			"status":            "0x1",
			"cumulativeGasUsed": "0x5208",
			"logsBloom":         "0x" + strings.Repeat("0", 512),
			"logs":              []any{},
			"transactionHash":   hash.Hex(),
			"contractAddress":   nil,
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x1",
			"blockHash":         "0x" + strings.Repeat("cd", 32),
			"blockNumber":       "0x10",
			"transactionIndex":  "0x0",
		},
		"eth_blockNumber": "0x1c",
	})

	gw := NewEthGateway(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer gw.Close()

	status, err := gw.TransactionStatus(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, TxSuccess, status.State)
	assert.Equal(t, uint64(12), status.Confirmations)
	require.NotNil(t, status.BlockNumber)
	assert.Equal(t, uint64(16), *status.BlockNumber)
}

func TestGatewayIsConnected(t *testing.T) {
	srv := newRPCServer(t, map[string]any{"eth_chainId": "0x8274f"})

	gw := NewEthGateway(Options{RPCURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	defer gw.Close()
	assert.True(t, gw.IsConnected(context.Background()))

	down := NewEthGateway(Options{}, zerolog.Nop())
	assert.False(t, down.IsConnected(context.Background()))
}

func TestToAtoms(t *testing.T) {
	atoms, err := toAtoms(decimal.RequireFromString("100.50"), 6)
	require.NoError(t, err)
	assert.Equal(t, "100500000", atoms.String())

	_, err = toAtoms(decimal.RequireFromString("0.0000001"), 6)
	require.Error(t, err)

	_, err = toAtoms(decimal.Zero, 18)
	require.Error(t, err)
}
