package pricefeed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/infrastructure/pricefeed"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func newServer(t *testing.T, routes map[string]string) (*httptest.Server, *int32) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		// nolint:errcheck
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestTradeOgre(t *testing.T) {
	srv, _ := newServer(t, map[string]string{
		"/api/v1/ticker/ARRR-USDT": `{"success":true,"initialprice":"0.21","price":"0.2345","high":"0.25","low":"0.2","volume":"1200.5"}`,
		"/api/v1/ticker/YEC-USDT":  `{"success":false,"error":"Market not found"}`,
	})
	p := pricefeed.NewTradeOgre(pricefeed.Config{BaseURL: srv.URL, Retries: 1})

	require.Equal(t, pricefeed.TradeOgreName, p.Name())
	require.True(t, p.Supports(domain.ARRR, domain.USDT))
	require.False(t, p.Supports(domain.USDT, domain.ARRR))

	quote, err := p.FetchPrice(ctx, domain.ARRR, domain.USDT)
	require.NoError(t, err)
	require.Equal(t, "0.2345", quote.Rate.String())
	require.True(t, quote.Timestamp.IsZero())

	quote, err = p.FetchPrice(ctx, domain.YEC, domain.USDT)
	require.Error(t, err)
	require.Nil(t, quote)

	_, err = p.FetchPrice(ctx, domain.EUR, domain.PLN)
	require.Error(t, err)
}

func TestCoinGecko(t *testing.T) {
	var path, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.Query().Get("ids")
		// nolint:errcheck
		w.Write([]byte(`{
			"pirate-chain": {"usd": 0.3, "last_updated_at": 1740830400},
			"tether": {"usd": 1.5, "last_updated_at": 1740830000}
		}`))
	}))
	defer srv.Close()
	p := pricefeed.NewCoinGecko(pricefeed.Config{BaseURL: srv.URL, Retries: 1})

	require.True(t, p.Supports(domain.USDT, domain.USD))
	require.False(t, p.Supports(domain.USDT, domain.USDT))
	require.False(t, p.Supports(domain.XAU, domain.USD))

	t.Run("usd", func(t *testing.T) {
		quote, err := p.FetchPrice(ctx, domain.ARRR, domain.USD)
		require.NoError(t, err)
		require.Equal(t, "/api/v3/simple/price", path)
		require.Equal(t, "pirate-chain", query)
		require.Equal(t, "0.3", quote.Rate.String())
		require.Equal(t, time.Unix(1740830400, 0).UTC(), quote.Timestamp)
	})

	t.Run("usdt is derived from both usd prices", func(t *testing.T) {
		quote, err := p.FetchPrice(ctx, domain.ARRR, domain.USDT)
		require.NoError(t, err)
		require.Equal(t, "pirate-chain,tether", query)
		require.Equal(t, "0.2", quote.Rate.String())
		require.Equal(t, time.Unix(1740830000, 0).UTC(), quote.Timestamp)
	})

	t.Run("missing coin", func(t *testing.T) {
		_, err := p.FetchPrice(ctx, domain.YEC, domain.USD)
		require.Error(t, err)
	})
}

func TestNBP(t *testing.T) {
	srv, _ := newServer(t, map[string]string{
		"/api/exchangerates/rates/a/usd/": `{"table":"A","currency":"dolar amerykański","code":"USD","rates":[{"no":"042/A/NBP/2025","effectiveDate":"2025-03-03","mid":4.0}]}`,
		"/api/exchangerates/rates/a/eur/": `{"table":"A","currency":"euro","code":"EUR","rates":[{"no":"042/A/NBP/2025","effectiveDate":"2025-03-03","mid":4.1755}]}`,
		"/api/cenyzlota/":                 `[{"data":"2025-02-28","cena":350.00},{"data":"2025-03-03","cena":400.00}]`,
	})
	p := pricefeed.NewNBP(pricefeed.Config{BaseURL: srv.URL, Retries: 1})
	march3 := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	require.True(t, p.Supports(domain.EUR, domain.PLN))
	require.True(t, p.Supports(domain.XAU, domain.USD))
	require.False(t, p.Supports(domain.PLN, domain.EUR))
	require.False(t, p.Supports(domain.ARRR, domain.PLN))

	quote, err := p.FetchPrice(ctx, domain.EUR, domain.PLN)
	require.NoError(t, err)
	require.Equal(t, "4.1755", quote.Rate.String())
	require.Equal(t, march3, quote.Timestamp)

	quote, err = p.FetchPrice(ctx, domain.XAU, domain.PLN)
	require.NoError(t, err)
	require.Equal(t, "12441.39072", quote.Rate.String())
	require.Equal(t, march3, quote.Timestamp)

	quote, err = p.FetchPrice(ctx, domain.XAU, domain.USD)
	require.NoError(t, err)
	require.Equal(t, "3110.34768", quote.Rate.String())
}

func TestPeg(t *testing.T) {
	p := pricefeed.NewPeg()
	require.True(t, p.Supports(domain.USDT, domain.USD))
	require.False(t, p.Supports(domain.USD, domain.USDT))

	quote, err := p.FetchPrice(ctx, domain.USDT, domain.USD)
	require.NoError(t, err)
	require.Equal(t, "1", quote.Rate.String())
}

func TestRetry(t *testing.T) {
	t.Run("transient errors are retried", func(t *testing.T) {
		var hits int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&hits, 1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			// nolint:errcheck
			w.Write([]byte(`{"success":true,"price":"0.5"}`))
		}))
		defer srv.Close()
		p := pricefeed.NewTradeOgre(pricefeed.Config{BaseURL: srv.URL, Retries: 2})

		quote, err := p.FetchPrice(ctx, domain.ARRR, domain.USDT)
		require.NoError(t, err)
		require.Equal(t, "0.5", quote.Rate.String())
		require.EqualValues(t, 2, atomic.LoadInt32(&hits))
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		srv, hits := newServer(t, map[string]string{})
		p := pricefeed.NewTradeOgre(pricefeed.Config{BaseURL: srv.URL, Retries: 3})

		_, err := p.FetchPrice(ctx, domain.ARRR, domain.USDT)
		var statusErr *pricefeed.StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
		require.EqualValues(t, 1, atomic.LoadInt32(hits))
	})

	t.Run("invalid json", func(t *testing.T) {
		srv, _ := newServer(t, map[string]string{"/api/v1/ticker/ARRR-USDT": `<html>`})
		p := pricefeed.NewTradeOgre(pricefeed.Config{BaseURL: srv.URL, Retries: 1})

		_, err := p.FetchPrice(ctx, domain.ARRR, domain.USDT)
		require.Error(t, err)
	})
}

func TestNewProviders(t *testing.T) {
	providers, err := pricefeed.NewProviders([]string{"tradeogre", " CoinGecko", "", "nbp", "peg"}, pricefeed.Config{})
	require.NoError(t, err)
	require.Len(t, providers, 4)
	require.Equal(t, pricefeed.CoinGeckoName, providers[1].Name())
	require.Equal(t, pricefeed.PegName, providers[3].Name())

	_, err = pricefeed.NewProviders([]string{"binance"}, pricefeed.Config{})
	require.Error(t, err)
}
