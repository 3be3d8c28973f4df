package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-payments/internal/chain"
	"stablecoin-payments/internal/payment"
	"stablecoin-payments/internal/pricing"
)

const recipient = "0x00000000000000000000000000000000000000aa"

type listingFetcher struct{}

func (listingFetcher) FetchStablecoins(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"symbol":"USDC","price":1.0,"marketCap":33000000000},{"symbol":"USDT","price":0.999}]`), nil
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

type testServer struct {
	handler http.Handler
	gateway *chain.StaticGateway
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gw := chain.NewStaticGateway()
	tracker := payment.New(payment.Options{
		Tokens: map[string]payment.Token{
			"USDC": {Address: common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"), Decimals: 6},
		},
		RequiredConfirmations: 12,
	}, gw, nil, nil, zerolog.Nop())
	cache := pricing.NewCache(pricing.CacheOptions{Symbols: []string{"USDC", "USDT", "DAI"}}, listingFetcher{}, nil, zerolog.Nop())

	return testServer{
		handler: New(tracker, cache, gw, zerolog.Nop()).Handler(Options{}),
		gateway: gw,
	}
}

func (s testServer) do(t *testing.T, method, path, body string) (int, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return rec.Code, resp
}

func createBody(amount, coin string) string {
	return `{"recipient_address":"` + recipient + `","amount":` + amount + `,"stablecoin":"` + coin + `","description":"invoice #1"}`
}

func TestPaymentLifecycle(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/payments/create", createBody("100.50", "usdc"))
	require.Equal(t, http.StatusCreated, code)
	require.True(t, resp.Success)

	var created payment.Record
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, payment.StatusPending, created.Status)
	assert.Equal(t, "USDC", created.Symbol)

	code, resp = s.do(t, http.MethodPost, "/payments/"+created.PaymentID+"/send", "")
	require.Equal(t, http.StatusOK, code)
	var sent payment.Record
	require.NoError(t, json.Unmarshal(resp.Data, &sent))
	require.NotNil(t, sent.TransactionHash)
	assert.Equal(t, payment.StatusSubmitted, sent.Status)

	s.gateway.Mine(*sent.TransactionHash, 10, 12, false)

	code, resp = s.do(t, http.MethodGet, "/payments/status/"+sent.TransactionHash.Hex(), "")
	require.Equal(t, http.StatusOK, code)
	var settled payment.Record
	require.NoError(t, json.Unmarshal(resp.Data, &settled))
	assert.Equal(t, payment.StatusSuccess, settled.Status)
	assert.NotNil(t, settled.CompletedAt)

	code, resp = s.do(t, http.MethodPost, "/payments/"+created.PaymentID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", resp.Error)

	code, resp = s.do(t, http.MethodGet, "/payments/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats payment.Statistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 1, stats.TotalCount)
	assert.Equal(t, 1, stats.PerStatus[payment.StatusSuccess])
}

func TestCreateValidationErrors(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodPost, "/payments/create", createBody("0.001", "USDC"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Equal(t, "validation_error", resp.Error)

	code, resp = s.do(t, http.MethodPost, "/payments/create", createBody("10", "FAKE"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Message, "FAKE")

	code, _ = s.do(t, http.MethodPost, "/payments/create", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = s.do(t, http.MethodPost, "/payments/create", createBody("10", "DAI"))
	assert.Equal(t, http.StatusInternalServerError, code, "DAI has no configured address here")
	assert.Equal(t, "configuration_error", resp.Error)
}

func TestTokenNotAllowed(t *testing.T) {
	s := newTestServer(t)
	s.gateway.Allowed = map[common.Address]bool{}

	code, resp := s.do(t, http.MethodPost, "/payments/create", createBody("10", "USDC"))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "token_not_allowed", resp.Error)
}

func TestLookupErrors(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/payments/by-id/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", resp.Error)

	code, _ = s.do(t, http.MethodGet, "/payments/status/0x1234", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/payments?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListByStatus(t *testing.T) {
	s := newTestServer(t)

	_, resp := s.do(t, http.MethodPost, "/payments/create", createBody("1", "USDC"))
	var first payment.Record
	require.NoError(t, json.Unmarshal(resp.Data, &first))
	s.do(t, http.MethodPost, "/payments/create", createBody("2", "USDC"))
	code, _ := s.do(t, http.MethodPost, "/payments/"+first.PaymentID+"/cancel", "")
	require.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/payments?status=pending", "")
	require.Equal(t, http.StatusOK, code)
	var body struct {
		Total    int              `json:"total"`
		Payments []payment.Record `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	assert.Equal(t, 1, body.Total)

	_, resp = s.do(t, http.MethodGet, "/payments", "")
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	assert.Equal(t, 2, body.Total)
}

func TestPriceRoutes(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/stablecoins/prices", "")
	require.Equal(t, http.StatusOK, code)
	var prices struct {
		Stablecoins []pricing.Quote `json:"stablecoins"`
		Count       int             `json:"count"`
		CacheValid  bool            `json:"cache_valid"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &prices))
	assert.Equal(t, 2, prices.Count)
	assert.True(t, prices.CacheValid)
	assert.Equal(t, "$33.0B", prices.Stablecoins[0].MarketCap)

	code, _ = s.do(t, http.MethodGet, "/stablecoins/prices/usdt", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/stablecoins/prices/DAI", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = s.do(t, http.MethodGet, "/stablecoins/prices/BUSD", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation_error", resp.Error)

	code, _ = s.do(t, http.MethodDelete, "/stablecoins/cache", "")
	assert.Equal(t, http.StatusOK, code)

	code, resp = s.do(t, http.MethodGet, "/stablecoins/cache", "")
	require.Equal(t, http.StatusOK, code)
	var info pricing.CacheInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.False(t, info.Valid)
	assert.Equal(t, 0, info.Entries)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, true, health["blockchain_connected"])
}
