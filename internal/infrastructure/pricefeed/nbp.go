package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	NBPName = "nbp"

	nbpURL = "https://api.nbp.pl"

	nbpDateLayout = "2006-01-02"
	nbpPrecision  = 18
)

// NBP publishes gold per gram, XAU is a troy ounce.
var gramsPerTroyOunce = decimal.RequireFromString("31.1034768")

var nbpFiat = map[domain.Currency]bool{
	domain.USD: true,
	domain.EUR: true,
}

type nbp struct {
	http *httpClient
}

// NewNBP quotes the National Bank of Poland's table A mid rates against PLN,
// and gold in PLN or USD.
func NewNBP(cfg Config) ports.PriceProvider {
	return &nbp{newHTTPClient(cfg, nbpURL)}
}

func (p *nbp) Name() string {
	return NBPName
}

func (p *nbp) Supports(base, quote domain.Currency) bool {
	switch {
	case quote == domain.PLN:
		return nbpFiat[base] || base == domain.XAU
	case base == domain.XAU:
		return nbpFiat[quote]
	}
	return false
}

func (p *nbp) FetchPrice(
	ctx context.Context, base, quote domain.Currency,
) (*ports.PriceQuote, error) {
	if !p.Supports(base, quote) {
		return nil, fmt.Errorf("%s does not quote %s/%s", NBPName, base, quote)
	}

	if base != domain.XAU {
		rate, date, err := p.midRate(ctx, base)
		if err != nil {
			return nil, err
		}
		return &ports.PriceQuote{Rate: rate, Timestamp: date}, nil
	}

	gold, date, err := p.goldPrice(ctx)
	if err != nil {
		return nil, err
	}
	if quote == domain.PLN {
		return &ports.PriceQuote{Rate: gold, Timestamp: date}, nil
	}

	fiat, fiatDate, err := p.midRate(ctx, quote)
	if err != nil {
		return nil, err
	}
	if !fiat.IsPositive() {
		return nil, nil
	}
	if fiatDate.Before(date) {
		date = fiatDate
	}
	return &ports.PriceQuote{Rate: gold.DivRound(fiat, nbpPrecision), Timestamp: date}, nil
}

// midRate is the PLN price of one unit of currency.
func (p *nbp) midRate(ctx context.Context, currency domain.Currency) (decimal.Decimal, time.Time, error) {
	path := fmt.Sprintf("/api/exchangerates/rates/a/%s/?format=json", strings.ToLower(string(currency)))
	body, err := p.http.getJSON(ctx, path)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	last := gjson.GetBytes(body, "rates|@reverse|0")
	rate, err := parseDecimal(last.Get("mid"))
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%s: invalid mid rate for %s: %w", NBPName, currency, err)
	}
	return rate, parseNBPDate(last.Get("effectiveDate").String()), nil
}

// goldPrice is the PLN price of one troy ounce.
func (p *nbp) goldPrice(ctx context.Context) (decimal.Decimal, time.Time, error) {
	body, err := p.http.getJSON(ctx, "/api/cenyzlota/?format=json")
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	last := gjson.GetBytes(body, "@reverse|0")
	perGram, err := parseDecimal(last.Get("cena"))
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%s: invalid gold price: %w", NBPName, err)
	}
	return perGram.Mul(gramsPerTroyOunce), parseNBPDate(last.Get("data").String()), nil
}

func parseNBPDate(s string) time.Time {
	date, err := time.Parse(nbpDateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return date.UTC()
}
