package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

const exchangeRateColumns = `id, base_currency, quote_currency, rate, updated_at, source, is_volatile`

type exchangeRateRepository struct {
	db *sql.DB
}

func NewExchangeRateRepository(db *sql.DB) (domain.ExchangeRateRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("cannot open exchange rate repository: db is nil")
	}
	return &exchangeRateRepository{db: db}, nil
}

func (r *exchangeRateRepository) Save(ctx context.Context, rate domain.ExchangeRate) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO exchange_rate (`+exchangeRateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET rate = excluded.rate, updated_at = excluded.updated_at,
			source = excluded.source, is_volatile = excluded.is_volatile`,
		rate.Id, string(rate.BaseCurrency), string(rate.QuoteCurrency), rate.Rate.String(),
		rate.UpdatedAt.UnixNano(), rate.Source, rate.IsVolatile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return nil
}

func (r *exchangeRateRepository) FindLatest(
	ctx context.Context, base, quote domain.Currency,
) (*domain.ExchangeRate, error) {
	rate, err := scanExchangeRate(r.db.QueryRowContext(ctx,
		`SELECT `+exchangeRateColumns+` FROM exchange_rate
		WHERE base_currency = ? AND quote_currency = ?
		ORDER BY updated_at DESC, id DESC LIMIT 1`,
		string(base), string(quote),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrRateNotFound, base, quote)
		}
		return nil, err
	}
	return rate, nil
}

func (r *exchangeRateRepository) FindAllLatest(ctx context.Context) ([]domain.ExchangeRate, error) {
	return r.query(ctx,
		`SELECT `+exchangeRateColumns+` FROM exchange_rate AS e
		WHERE e.id = (
			SELECT l.id FROM exchange_rate AS l
			WHERE l.base_currency = e.base_currency AND l.quote_currency = e.quote_currency
			ORDER BY l.updated_at DESC, l.id DESC LIMIT 1
		)
		ORDER BY base_currency, quote_currency`,
	)
}

func (r *exchangeRateRepository) FindSince(
	ctx context.Context, base, quote domain.Currency, since time.Time,
) ([]domain.ExchangeRate, error) {
	return r.query(ctx,
		`SELECT `+exchangeRateColumns+` FROM exchange_rate
		WHERE base_currency = ? AND quote_currency = ? AND updated_at >= ?
		ORDER BY updated_at, id`,
		string(base), string(quote), since.UnixNano(),
	)
}

func (r *exchangeRateRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM exchange_rate AS e
		WHERE e.updated_at < ? AND e.id <> (
			SELECT l.id FROM exchange_rate AS l
			WHERE l.base_currency = e.base_currency AND l.quote_currency = e.quote_currency
			ORDER BY l.updated_at DESC, l.id DESC LIMIT 1
		)`,
		before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old exchange rates: %w", err)
	}
	return res.RowsAffected()
}

func (r *exchangeRateRepository) Close() {
	// nolint
	r.db.Close()
}

func (r *exchangeRateRepository) query(
	ctx context.Context, q string, args ...any,
) ([]domain.ExchangeRate, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchange rates: %w", err)
	}
	// nolint:errcheck
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

func scanExchangeRate(row scanner) (*domain.ExchangeRate, error) {
	var (
		e                  domain.ExchangeRate
		base, quote, value string
		updatedAt          int64
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
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &e, nil
}
