package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout = 15 * time.Second

	listReceivedMethod = "z_listreceivedbyaddress"

	maxIdleConns    = 16
	maxResponseSize = 32 << 20
)

// RPCError is an error reported by the node itself, as opposed to a failure
// to reach it.
type RPCError struct {
	Rail    domain.Currency
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s node error %d: %s", e.Rail, e.Code, e.Message)
}

type Config struct {
	Currency domain.Currency
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

type service struct {
	currency domain.Currency
	endpoint string
	user     string
	password string
	timeout  time.Duration
	client   *http.Client
	nextId   atomic.Uint64
}

// NewService talks JSON-RPC to a zcashd-compatible node (pirated, ycashd).
// Each call is a single POST bounded by the timeout; calls run concurrently
// and are never retried.
func NewService(cfg Config) (ports.LedgerService, error) {
	if !cfg.Currency.IsRail() {
		return nil, fmt.Errorf("%s is not a settlement rail", cfg.Currency)
	}
	if cfg.URL == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("missing rpc url or credentials for %s", cfg.Currency)
	}
	endpoint, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &service{
		currency: cfg.Currency,
		endpoint: endpoint,
		user:     cfg.User,
		password: cfg.Password,
		timeout:  cfg.Timeout,
		client:   client,
	}, nil
}

func (s *service) Currency() domain.Currency {
	return s.currency
}

type receivedNote struct {
	TxId          string          `json:"txid"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo"`
	Confirmations int64           `json:"confirmations"`
	Change        bool            `json:"change"`
}

func (s *service) ListReceived(
	ctx context.Context, address string, minConfirmations int64,
) ([]ports.ReceivedTx, error) {
	params, err := marshalParams(address, minConfirmations)
	if err != nil {
		return nil, err
	}

	raw, err := s.call(ctx, listReceivedMethod, params)
	if err != nil {
		return nil, err
	}

	var notes []receivedNote
	if err := json.Unmarshal(raw, &notes); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", listReceivedMethod, err)
	}

	txs := make([]ports.ReceivedTx, 0, len(notes))
	for _, n := range notes {
		// change notes are our own funds coming back
		if n.Change {
			continue
		}
		txs = append(txs, ports.ReceivedTx{
			TxId:          n.TxId,
			Memo:          n.Memo,
			Amount:        n.Amount,
			Confirmations: n.Confirmations,
		})
	}
	return txs, nil
}

func (s *service) Close() {
	s.client.CloseIdleConnections()
}

// call posts one JSON-RPC request, bounded by the per-call timeout including
// the body read. Errors the node reports in the response envelope become
// *RPCError, anything else is a transport error.
func (s *service) call(
	ctx context.Context, method string, params []json.RawMessage,
) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(&btcjson.Request{
		Jsonrpc: btcjson.RpcVersion1,
		Method:  method,
		Params:  params,
		ID:      s.nextId.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.currency, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.user, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		log.WithFields(log.Fields{"rail": s.currency, "method": method}).WithError(err).Debug("rpc call failed")
		return nil, fmt.Errorf("%s %s: %w", s.currency, method, err)
	}
	// nolint:errcheck
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", s.currency, method, err)
	}

	// zcashd answers node errors with a non 2xx status and a regular envelope.
	var envelope btcjson.Response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("%s %s: unexpected status %d", s.currency, method, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: invalid response: %w", s.currency, method, err)
	}
	if envelope.Error != nil {
		return nil, &RPCError{s.currency, int(envelope.Error.Code), envelope.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: unexpected status %d", s.currency, method, resp.StatusCode)
	}
	return envelope.Result, nil
}

func marshalParams(params ...any) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rpc param: %w", err)
		}
		raw = append(raw, b)
	}
	return raw, nil
}

// parseEndpoint validates the rpc url. A url without scheme is taken as
// plain http.
func parseEndpoint(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid rpc url %s: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported rpc url scheme %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid rpc url %s: missing host", rawURL)
	}
	return u.String(), nil
}
