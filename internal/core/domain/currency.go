package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Currency string

const (
	ARRR Currency = "ARRR"
	YEC  Currency = "YEC"
	USDT Currency = "USDT"
	USD  Currency = "USD"
	PLN  Currency = "PLN"
	EUR  Currency = "EUR"
	XAU  Currency = "XAU"
)

type currencyInfo struct {
	precision int32
	rail      bool
}

var currencies = map[Currency]currencyInfo{
	ARRR: {precision: 8, rail: true},
	YEC:  {precision: 8, rail: true},
	USDT: {precision: 6},
	USD:  {precision: 2},
	PLN:  {precision: 2},
	EUR:  {precision: 2},
	XAU:  {precision: 4},
}

// ParseCurrency resolves a currency code, case-insensitively.
func ParseCurrency(code string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(code)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return c, nil
}

func (c Currency) IsKnown() bool {
	_, ok := currencies[c]
	return ok
}

// Precision is the number of decimal places amounts of this currency are
// settled with.
func (c Currency) Precision() int32 {
	if info, ok := currencies[c]; ok {
		return info.precision
	}
	return 8
}

// IsRail reports whether payments can be settled on chain in this currency.
func (c Currency) IsRail() bool {
	return currencies[c].rail
}

func (c Currency) String() string {
	return string(c)
}

func KnownCurrencies() []Currency {
	list := make([]Currency, 0, len(currencies))
	for c := range currencies {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

type CurrencyPair struct {
	Base  Currency
	Quote Currency
}

func (p CurrencyPair) String() string {
	return fmt.Sprintf("%s/%s", p.Base, p.Quote)
}

// ParseCurrencyPair parses "BASE/QUOTE".
func ParseCurrencyPair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q, expected BASE/QUOTE", s)
	}
	base, err := ParseCurrency(parts[0])
	if err != nil {
		return CurrencyPair{}, err
	}
	quote, err := ParseCurrency(parts[1])
	if err != nil {
		return CurrencyPair{}, err
	}
	if base == quote {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q: base equals quote", s)
	}
	return CurrencyPair{Base: base, Quote: quote}, nil
}
