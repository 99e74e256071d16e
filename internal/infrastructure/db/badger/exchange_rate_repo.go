package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"
)

const (
	exchangeRateDir = "exchange_rate"
)

type exchangeRateRepository struct {
	store *badgerhold.Store
}

func NewExchangeRateRepository(
	baseDir string, logger badger.Logger,
) (domain.ExchangeRateRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, exchangeRateDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open exchange rate store: %s", err)
	}
	return &exchangeRateRepository{store}, nil
}

type exchangeRateData struct {
	Id            string
	BaseCurrency  string
	QuoteCurrency string
	Rate          string
	UpdatedAt     int64
	Source        string
	IsVolatile    bool
}

func (r *exchangeRateRepository) Save(ctx context.Context, rate domain.ExchangeRate) error {
	return r.store.Upsert(rate.Id, toExchangeRateData(rate))
}

func (r *exchangeRateRepository) FindLatest(
	ctx context.Context, base, quote domain.Currency,
) (*domain.ExchangeRate, error) {
	rows, err := r.find(
		badgerhold.Where("BaseCurrency").Eq(string(base)).
			And("QuoteCurrency").Eq(string(quote)).
			SortBy("UpdatedAt").Reverse().Limit(1),
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrRateNotFound, base, quote)
	}
	return &rows[0], nil
}

func (r *exchangeRateRepository) FindAllLatest(ctx context.Context) ([]domain.ExchangeRate, error) {
	rows, err := r.find(nil)
	if err != nil {
		return nil, err
	}
	latest := domain.LatestByPair(rows)
	rates := make([]domain.ExchangeRate, 0, len(latest))
	for _, rate := range latest {
		rates = append(rates, rate)
	}
	sort.Slice(rates, func(i, j int) bool { return rates[i].Pair().String() < rates[j].Pair().String() })
	return rates, nil
}

func (r *exchangeRateRepository) FindSince(
	ctx context.Context, base, quote domain.Currency, since time.Time,
) ([]domain.ExchangeRate, error) {
	return r.find(
		badgerhold.Where("BaseCurrency").Eq(string(base)).
			And("QuoteCurrency").Eq(string(quote)).
			And("UpdatedAt").Ge(since.UnixNano()).
			SortBy("UpdatedAt"),
	)
}

// DeleteOlderThan removes rates last updated before the given time, except
// the latest rate of each pair.
func (r *exchangeRateRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.store.Badger().Update(func(tx *badger.Txn) error {
		var all []exchangeRateData
		if err := r.store.TxFind(tx, &all, nil); err != nil {
			return err
		}
		latest := make(map[domain.CurrencyPair]exchangeRateData)
		for _, row := range all {
			pair := domain.CurrencyPair{
				Base: domain.Currency(row.BaseCurrency), Quote: domain.Currency(row.QuoteCurrency),
			}
			if cur, ok := latest[pair]; !ok || row.UpdatedAt > cur.UpdatedAt {
				latest[pair] = row
			}
		}

		cutoff := before.UnixNano()
		for _, row := range all {
			pair := domain.CurrencyPair{
				Base: domain.Currency(row.BaseCurrency), Quote: domain.Currency(row.QuoteCurrency),
			}
			if row.UpdatedAt >= cutoff || latest[pair].Id == row.Id {
				continue
			}
			if err := r.store.TxDelete(tx, row.Id, exchangeRateData{}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old exchange rates: %w", err)
	}
	return deleted, nil
}

func (r *exchangeRateRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *exchangeRateRepository) find(query *badgerhold.Query) ([]domain.ExchangeRate, error) {
	var rows []exchangeRateData
	if err := r.store.Find(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	rates := make([]domain.ExchangeRate, 0, len(rows))
	for _, row := range rows {
		rate, err := row.toExchangeRate()
		if err != nil {
			return nil, err
		}
		rates = append(rates, *rate)
	}
	return rates, nil
}

func toExchangeRateData(r domain.ExchangeRate) exchangeRateData {
	return exchangeRateData{
		Id:            r.Id,
		BaseCurrency:  string(r.BaseCurrency),
		QuoteCurrency: string(r.QuoteCurrency),
		Rate:          r.Rate.String(),
		UpdatedAt:     r.UpdatedAt.UnixNano(),
		Source:        r.Source,
		IsVolatile:    r.IsVolatile,
	}
}

func (d exchangeRateData) toExchangeRate() (*domain.ExchangeRate, error) {
	rate, err := decimal.NewFromString(d.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %s: %w", d.Id, err)
	}
	return &domain.ExchangeRate{
		Id:            d.Id,
		BaseCurrency:  domain.Currency(d.BaseCurrency),
		QuoteCurrency: domain.Currency(d.QuoteCurrency),
		Rate:          rate,
		UpdatedAt:     time.Unix(0, d.UpdatedAt).UTC(),
		Source:        d.Source,
		IsVolatile:    d.IsVolatile,
	}, nil
}
