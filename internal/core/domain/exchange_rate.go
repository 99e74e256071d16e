package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is one observation of the price of Base expressed in Quote.
// Rows are only ever inserted; the latest row per pair is the current rate.
type ExchangeRate struct {
	Id            string
	BaseCurrency  Currency
	QuoteCurrency Currency
	Rate          decimal.Decimal
	UpdatedAt     time.Time
	Source        string
	IsVolatile    bool
}

func (r ExchangeRate) Pair() CurrencyPair {
	return CurrencyPair{Base: r.BaseCurrency, Quote: r.QuoteCurrency}
}

type ExchangeRateRepository interface {
	Save(ctx context.Context, rate ExchangeRate) error
	// FindLatest returns ErrRateNotFound when the pair was never fetched.
	FindLatest(ctx context.Context, base, quote Currency) (*ExchangeRate, error)
	// FindAllLatest returns the latest row of every stored pair.
	FindAllLatest(ctx context.Context) ([]ExchangeRate, error)
	// FindSince returns the rows of a pair updated at or after since, oldest first.
	FindSince(ctx context.Context, base, quote Currency, since time.Time) ([]ExchangeRate, error)
	// DeleteOlderThan purges rows older than the given time, keeping the latest
	// row of each pair, and returns how many rows were removed.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	Close()
}

// LatestByPair reduces rows to the newest row per pair.
func LatestByPair(rates []ExchangeRate) map[CurrencyPair]ExchangeRate {
	latest := make(map[CurrencyPair]ExchangeRate)
	for _, r := range rates {
		cur, ok := latest[r.Pair()]
		if !ok || r.UpdatedAt.After(cur.UpdatedAt) {
			latest[r.Pair()] = r
		}
	}
	return latest
}
