package pricefeed

import (
	"context"
	"fmt"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/tidwall/gjson"
)

const (
	TradeOgreName = "tradeogre"

	tradeOgreURL = "https://tradeogre.com"
)

var tradeOgreMarkets = map[domain.CurrencyPair]string{
	{Base: domain.ARRR, Quote: domain.USDT}: "ARRR-USDT",
	{Base: domain.YEC, Quote: domain.USDT}:  "YEC-USDT",
}

type tradeOgre struct {
	http *httpClient
}

// NewTradeOgre quotes the last traded price of TradeOgre markets.
func NewTradeOgre(cfg Config) ports.PriceProvider {
	return &tradeOgre{newHTTPClient(cfg, tradeOgreURL)}
}

func (p *tradeOgre) Name() string {
	return TradeOgreName
}

func (p *tradeOgre) Supports(base, quote domain.Currency) bool {
	_, ok := tradeOgreMarkets[domain.CurrencyPair{Base: base, Quote: quote}]
	return ok
}

func (p *tradeOgre) FetchPrice(
	ctx context.Context, base, quote domain.Currency,
) (*ports.PriceQuote, error) {
	market, ok := tradeOgreMarkets[domain.CurrencyPair{Base: base, Quote: quote}]
	if !ok {
		return nil, fmt.Errorf("%s does not quote %s/%s", TradeOgreName, base, quote)
	}

	body, err := p.http.getJSON(ctx, "/api/v1/ticker/"+market)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	if ok := res.Get("success"); ok.Exists() && !ok.Bool() {
		return nil, fmt.Errorf("%s: market %s not available: %s", TradeOgreName, market, res.Get("error").String())
	}
	price, err := parseDecimal(res.Get("price"))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid price for %s: %w", TradeOgreName, market, err)
	}
	if !price.IsPositive() {
		return nil, nil
	}
	return &ports.PriceQuote{Rate: price}, nil
}
