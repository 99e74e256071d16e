package pgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const exchangeRateColumns = `id, base_currency, quote_currency, rate::text, updated_at, source, is_volatile`

type exchangeRateRepository struct {
	pool *pgxpool.Pool
}

func NewExchangeRateRepository(pool *pgxpool.Pool) (domain.ExchangeRateRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("cannot open exchange rate repository: pool is nil")
	}
	return &exchangeRateRepository{pool}, nil
}

func (r *exchangeRateRepository) Save(ctx context.Context, rate domain.ExchangeRate) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exchange_rate (id, base_currency, quote_currency, rate, updated_at, source, is_volatile)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET rate = excluded.rate, updated_at = excluded.updated_at,
			source = excluded.source, is_volatile = excluded.is_volatile`,
		rate.Id, string(rate.BaseCurrency), string(rate.QuoteCurrency), rate.Rate.String(),
		rate.UpdatedAt.UTC(), rate.Source, rate.IsVolatile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return nil
}

func (r *exchangeRateRepository) FindLatest(
	ctx context.Context, base, quote domain.Currency,
) (*domain.ExchangeRate, error) {
	rate, err := scanExchangeRate(r.pool.QueryRow(ctx,
		`SELECT `+exchangeRateColumns+` FROM exchange_rate
		WHERE base_currency = $1 AND quote_currency = $2
		ORDER BY updated_at DESC, id DESC LIMIT 1`,
		string(base), string(quote),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrRateNotFound, base, quote)
		}
		return nil, err
	}
	return rate, nil
}

func (r *exchangeRateRepository) FindAllLatest(ctx context.Context) ([]domain.ExchangeRate, error) {
	return r.query(ctx,
		`SELECT DISTINCT ON (base_currency, quote_currency) `+exchangeRateColumns+`
		FROM exchange_rate
		ORDER BY base_currency, quote_currency, updated_at DESC, id DESC`,
	)
}

func (r *exchangeRateRepository) FindSince(
	ctx context.Context, base, quote domain.Currency, since time.Time,
) ([]domain.ExchangeRate, error) {
	return r.query(ctx,
		`SELECT `+exchangeRateColumns+` FROM exchange_rate
		WHERE base_currency = $1 AND quote_currency = $2 AND updated_at >= $3
		ORDER BY updated_at, id`,
		string(base), string(quote), since.UTC(),
	)
}

func (r *exchangeRateRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM exchange_rate AS e
		WHERE e.updated_at < $1 AND e.id NOT IN (
			SELECT DISTINCT ON (base_currency, quote_currency) id FROM exchange_rate
			ORDER BY base_currency, quote_currency, updated_at DESC, id DESC
		)`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old exchange rates: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *exchangeRateRepository) Close() {}

func (r *exchangeRateRepository) query(
	ctx context.Context, q string, args ...any,
) ([]domain.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []domain.ExchangeRate
	for rows.Next() {
		rate, err := scanExchangeRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, *rate)
	}
	return rates, rows.Err()
}

func scanExchangeRate(row pgx.Row) (*domain.ExchangeRate, error) {
	var (
		e                  domain.ExchangeRate
		base, quote, value string
		updatedAt          time.Time
	)
	if err := row.Scan(
		&e.Id, &base, &quote, &value, &updatedAt, &e.Source, &e.IsVolatile,
	); err != nil {
		return nil, err
	}
	rate, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %s: %w", e.Id, err)
	}
	e.BaseCurrency = domain.Currency(base)
	e.QuoteCurrency = domain.Currency(quote)
	e.Rate = rate
	e.UpdatedAt = updatedAt.UTC()
	return &e, nil
}
