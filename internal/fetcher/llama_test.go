package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLlamaFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "rate limited"})
	}))
	defer srv.Close()

	l := NewLlama(LlamaOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	_, err := l.FetchStablecoins(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLlamaFetchMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	l := NewLlama(LlamaOptions{URL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := l.FetchStablecoins(context.Background())
	assert.Error(t, err, "non-JSON body should be an error")
}

func TestLlamaFetchSuccess(t *testing.T) {
	var gotUA, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"peggedAssets":[{"symbol":"USDC","price":1}]}`))
	}))
	defer srv.Close()

	l := NewLlama(LlamaOptions{URL: srv.URL, Timeout: time.Second, UserAgent: "test-agent"}, zerolog.Nop())

	raw, err := l.FetchStablecoins(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "peggedAssets")
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, "test-agent", gotUA)
}

func TestLlamaDefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	l := NewLlama(LlamaOptions{URL: srv.URL}, zerolog.Nop())
	_, err := l.FetchStablecoins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultUserAgent, gotUA)
}
