package pricefeed

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	CoinGeckoName = "coingecko"

	coinGeckoURL = "https://api.coingecko.com"

	// quotes against USDT are derived from the USD prices of both coins
	usdtDivisionPrecision = 18
)

var coinGeckoIds = map[domain.Currency]string{
	domain.ARRR: "pirate-chain",
	domain.YEC:  "ycash",
	domain.USDT: "tether",
}

type coinGecko struct {
	http *httpClient
}

// NewCoinGecko quotes ARRR, YEC and USDT in USD, and ARRR and YEC in USDT.
func NewCoinGecko(cfg Config) ports.PriceProvider {
	return &coinGecko{newHTTPClient(cfg, coinGeckoURL)}
}

func (p *coinGecko) Name() string {
	return CoinGeckoName
}

func (p *coinGecko) Supports(base, quote domain.Currency) bool {
	if _, ok := coinGeckoIds[base]; !ok {
		return false
	}
	switch quote {
	case domain.USD:
		return true
	case domain.USDT:
		return base != domain.USDT
	}
	return false
}

func (p *coinGecko) FetchPrice(
	ctx context.Context, base, quote domain.Currency,
) (*ports.PriceQuote, error) {
	if !p.Supports(base, quote) {
		return nil, fmt.Errorf("%s does not quote %s/%s", CoinGeckoName, base, quote)
	}

	ids := coinGeckoIds[base]
	if quote == domain.USDT {
		ids += "," + coinGeckoIds[domain.USDT]
	}
	query := url.Values{}
	query.Set("ids", ids)
	query.Set("vs_currencies", "usd")
	query.Set("include_last_updated_at", "true")

	body, err := p.http.getJSON(ctx, "/api/v3/simple/price?"+query.Encode())
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)

	price, updatedAt, err := coinGeckoUSDPrice(res, coinGeckoIds[base])
	if err != nil {
		return nil, err
	}
	if quote == domain.USDT {
		usdt, usdtUpdatedAt, err := coinGeckoUSDPrice(res, coinGeckoIds[domain.USDT])
		if err != nil {
			return nil, err
		}
		if !usdt.IsPositive() {
			return nil, nil
		}
		price = price.DivRound(usdt, usdtDivisionPrecision)
		if usdtUpdatedAt.Before(updatedAt) {
			updatedAt = usdtUpdatedAt
		}
	}
	if !price.IsPositive() {
		return nil, nil
	}
	return &ports.PriceQuote{Rate: price, Timestamp: updatedAt}, nil
}

func coinGeckoUSDPrice(res gjson.Result, id string) (decimal.Decimal, time.Time, error) {
	coin := res.Get(id)
	if !coin.Exists() {
		return decimal.Zero, time.Time{}, fmt.Errorf("%s: no price for %s", CoinGeckoName, id)
	}
	price, err := parseDecimal(coin.Get("usd"))
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%s: invalid price for %s: %w", CoinGeckoName, id, err)
	}
	var updatedAt time.Time
	if ts := coin.Get("last_updated_at").Int(); ts > 0 {
		updatedAt = time.Unix(ts, 0).UTC()
	}
	return price, updatedAt, nil
}
