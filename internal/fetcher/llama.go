package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultLlamaURL  = "https://stablecoins.llama.fi/stablecoins"
	defaultUserAgent = "stablepay/1.0"
	maxBodyBytes     = 16 << 20
)

// LlamaOptions parameterise the DeFiLlama stablecoin fetcher.
type LlamaOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Llama fetches the stablecoin listing from DeFiLlama.
type Llama struct {
	opts   LlamaOptions
	logger zerolog.Logger
	client *http.Client
	url    string
}

// NewLlama constructs a DeFiLlama fetcher.
func NewLlama(opts LlamaOptions, logger zerolog.Logger) *Llama {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = defaultLlamaURL
	}

	return &Llama{
		opts:   opts,
		logger: logger.With().Str("component", "llama_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// FetchStablecoins performs a single GET and returns the body when it is valid JSON.
func (l *Llama) FetchStablecoins(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(l.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	started := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request stablecoins: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read stablecoins body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("llama api returned malformed json (%d bytes)", len(payload))
	}

	l.logger.Debug().
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(started)).
		Msg("stablecoin listing fetched")
	return json.RawMessage(payload), nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("llama api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("llama api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		body := strings.TrimSpace(string(payload))
		if len(body) > 200 {
			body = body[:200]
		}
		return fmt.Errorf("llama api error (%d): %s", status, body)
	}
	return fmt.Errorf("llama api error (%d)", status)
}

var _ StablecoinFetcher = (*Llama)(nil)
