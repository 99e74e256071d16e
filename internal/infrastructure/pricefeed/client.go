package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/utils"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 2
	retryBackoff   = 500 * time.Millisecond
	maxBodySize    = 1 << 20
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Retries is the number of attempts for a request that failed with a
	// transient error (network, 429, 5xx).
	Retries int
}

// StatusError is returned for a non 2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

type httpClient struct {
	baseURL string
	client  *http.Client
	retries int
}

func newHTTPClient(cfg Config, defaultBaseURL string) *httpClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		retries: retries,
	}
}

// getJSON fetches path and returns the body once it is known to be valid
// JSON.
func (c *httpClient) getJSON(ctx context.Context, path string) ([]byte, error) {
	url := c.baseURL + path
	var body []byte

	err := utils.Retry(ctx, c.retries, retryBackoff, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return ctx.Err() == nil, fmt.Errorf("GET %s: %w", url, err)
		}
		// nolint:errcheck
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return shouldRetryStatus(resp.StatusCode), &StatusError{url, resp.StatusCode}
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return true, fmt.Errorf("GET %s: failed to read body: %w", url, err)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("GET %s: invalid json response", url)
	}
	return body, nil
}

func shouldRetryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// parseDecimal reads a number that providers send either as a json number or
// as a string.
func parseDecimal(res gjson.Result) (decimal.Decimal, error) {
	if !res.Exists() {
		return decimal.Zero, fmt.Errorf("missing value")
	}
	switch res.Type {
	case gjson.Number:
		return decimal.NewFromString(res.Raw)
	case gjson.String:
		return decimal.NewFromString(strings.TrimSpace(res.Str))
	default:
		return decimal.Zero, fmt.Errorf("unexpected value %s", res.Raw)
	}
}

// NewProviders builds providers in the given priority order.
func NewProviders(names []string, cfg Config) ([]ports.PriceProvider, error) {
	providers := make([]ports.PriceProvider, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case TradeOgreName:
			providers = append(providers, NewTradeOgre(Config{Timeout: cfg.Timeout, Retries: cfg.Retries}))
		case CoinGeckoName:
			providers = append(providers, NewCoinGecko(Config{Timeout: cfg.Timeout, Retries: cfg.Retries}))
		case NBPName:
			providers = append(providers, NewNBP(Config{Timeout: cfg.Timeout, Retries: cfg.Retries}))
		case PegName:
			providers = append(providers, NewPeg())
		case "":
			continue
		default:
			return nil, fmt.Errorf("unknown price provider %q", name)
		}
	}
	return providers, nil
}
