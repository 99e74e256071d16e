package application

import (
	"context"
	"testing"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type staticVolatility map[domain.Currency]bool

func (v staticVolatility) IsVolatile(c domain.Currency) bool {
	return v[c]
}

func TestConvert(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newRates := func() *memRateRepo {
		rates := &memRateRepo{}
		rates.add(domain.ARRR, domain.USDT, "0.25", t0)
		rates.add(domain.USDT, domain.USD, "1", t0.Add(-time.Minute))
		rates.add(domain.USD, domain.PLN, "4", t0.Add(time.Minute))
		rates.add(domain.EUR, domain.PLN, "4.25", t0)
		return rates
	}

	t.Run("multi hop", func(t *testing.T) {
		c := NewConverter(newRates())

		res, err := c.Convert(ctx, decimal.NewFromInt(10), domain.ARRR, domain.PLN)
		require.NoError(t, err)
		require.True(t, res.TargetAmount.Equal(decimal.NewFromInt(10)), res.TargetAmount.String())
		require.Len(t, res.Steps, 3)
		require.Equal(t, domain.ARRR, res.Steps[0].BaseCurrency)
		require.Equal(t, domain.USDT, res.Steps[0].QuoteCurrency)
		require.Equal(t, domain.USD, res.Steps[2].BaseCurrency)
		require.Equal(t, domain.PLN, res.Steps[2].QuoteCurrency)
		// oldest rate along the path
		require.Equal(t, t0.Add(-time.Minute), res.UpdatedAt)
		require.False(t, res.IsVolatile)
	})

	t.Run("inverse edges", func(t *testing.T) {
		c := NewConverter(newRates())

		res, err := c.Convert(ctx, decimal.NewFromInt(17), domain.PLN, domain.EUR)
		require.NoError(t, err)
		require.Len(t, res.Steps, 1)
		require.Equal(t, domain.PLN, res.Steps[0].BaseCurrency)
		require.Equal(t, domain.EUR, res.Steps[0].QuoteCurrency)
		require.Equal(t, "4", res.TargetAmount.Round(8).String())

		res, err = c.Convert(ctx, decimal.NewFromInt(8), domain.PLN, domain.ARRR)
		require.NoError(t, err)
		require.Len(t, res.Steps, 3)
		require.Equal(t, "8", res.TargetAmount.Round(8).String())
	})

	t.Run("identity", func(t *testing.T) {
		c := NewConverter(&memRateRepo{})
		c.now = func() time.Time { return t0 }

		res, err := c.Convert(ctx, decimal.NewFromInt(3), domain.YEC, domain.YEC)
		require.NoError(t, err)
		require.True(t, res.TargetAmount.Equal(decimal.NewFromInt(3)))
		require.Empty(t, res.Steps)
		require.Equal(t, t0, res.UpdatedAt)
	})

	t.Run("no path", func(t *testing.T) {
		c := NewConverter(newRates())

		res, err := c.Convert(ctx, decimal.NewFromInt(1), domain.YEC, domain.PLN)
		require.Nil(t, res)
		var convErr *ConversionError
		require.ErrorAs(t, err, &convErr)
		require.ErrorIs(t, err, ErrNoConversionPath)
		require.Equal(t, domain.YEC, convErr.From)
	})

	t.Run("unknown currency", func(t *testing.T) {
		c := NewConverter(newRates())

		_, err := c.Convert(ctx, decimal.NewFromInt(1), domain.Currency("DOGE"), domain.PLN)
		require.ErrorIs(t, err, domain.ErrUnknownCurrency)
	})

	t.Run("latest rate wins", func(t *testing.T) {
		rates := newRates()
		rates.add(domain.ARRR, domain.USDT, "0.5", t0.Add(time.Hour))
		c := NewConverter(rates)

		res, err := c.Convert(ctx, decimal.NewFromInt(10), domain.ARRR, domain.USDT)
		require.NoError(t, err)
		require.True(t, res.TargetAmount.Equal(decimal.NewFromInt(5)))
	})

	t.Run("volatility", func(t *testing.T) {
		rates := newRates()
		c := NewConverter(rates)
		c.SetVolatilitySource(staticVolatility{domain.ARRR: true})

		res, err := c.Convert(ctx, decimal.NewFromInt(1), domain.ARRR, domain.PLN)
		require.NoError(t, err)
		require.True(t, res.IsVolatile)

		res, err = c.Convert(ctx, decimal.NewFromInt(1), domain.EUR, domain.USD)
		require.NoError(t, err)
		require.False(t, res.IsVolatile)

		flagged := rates.add(domain.EUR, domain.PLN, "4.3", t0.Add(time.Hour))
		flagged.IsVolatile = true
		rates.rates[len(rates.rates)-1] = flagged
		res, err = c.Convert(ctx, decimal.NewFromInt(1), domain.EUR, domain.USD)
		require.NoError(t, err)
		require.True(t, res.IsVolatile)
	})
}

func TestConvertAll(t *testing.T) {
	rates := &memRateRepo{}
	rates.add(domain.ARRR, domain.USDT, "0.25", time.Now())
	rates.add(domain.USDT, domain.USD, "1", time.Now())
	c := NewConverter(rates)

	results, err := c.ConvertAll(
		context.Background(), decimal.NewFromInt(4), domain.ARRR,
		[]domain.Currency{domain.USD, domain.PLN, domain.USDT},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[domain.USD].TargetAmount.Equal(decimal.NewFromInt(1)))
	require.NotContains(t, results, domain.PLN)
}
