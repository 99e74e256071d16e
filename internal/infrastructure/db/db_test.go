package db_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/internal/infrastructure/db"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	ctx = context.Background()

	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestRepoManager(t *testing.T) {
	tests := []struct {
		name   string
		config db.ServiceConfig
	}{
		{
			name: "badger",
			config: db.ServiceConfig{
				DbType:   "badger",
				DbConfig: []any{"", nil},
			},
		},
		{
			name: "sqlite",
			config: db.ServiceConfig{
				DbType:   "sqlite",
				DbConfig: []any{t.TempDir()},
			},
		},
	}
	// Runs against an empty database only.
	if dsn := os.Getenv("SETTLE_TEST_POSTGRES_DSN"); dsn != "" {
		tests = append(tests, struct {
			name   string
			config db.ServiceConfig
		}{
			name: "postgres",
			config: db.ServiceConfig{
				DbType:   "postgres",
				DbConfig: []any{dsn},
			},
		})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := db.NewService(tt.config)
			require.NoError(t, err)
			defer svc.Close()

			testPaymentRepository(t, svc)
			testExchangeRateRepository(t, svc)
			testLocker(t, svc)
		})
	}
}

func TestNewServiceInvalidConfig(t *testing.T) {
	fixtures := []db.ServiceConfig{
		{DbType: "mysql"},
		{DbType: "badger", DbConfig: []any{""}},
		{DbType: "badger", DbConfig: []any{42, nil}},
		{DbType: "sqlite"},
		{DbType: "postgres", DbConfig: []any{""}},
	}
	for _, f := range fixtures {
		svc, err := db.NewService(f)
		require.Error(t, err)
		require.Nil(t, svc)
	}
}

func makePayment(address, memo string) domain.Payment {
	id := uuid.New().String()
	return domain.Payment{
		Id:               id,
		PurchaseId:       "purchase-" + id,
		BuyerId:          "buyer",
		SellerId:         "seller",
		RequestedAmount:  decimal.RequireFromString("10.5"),
		PaidAmount:       decimal.Zero,
		Currency:         domain.ARRR,
		Memo:             memo,
		ReceivingAddress: address,
		Status:           domain.PaymentAwaitingConfirmation,
		Deadline:         t0.Add(time.Hour),
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func testPaymentRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("payment repository", func(t *testing.T) {
		repo := svc.Payments()
		address := "zs1" + uuid.New().String()

		payment := makePayment(address, "gimlee:1")
		require.NoError(t, repo.Add(ctx, payment))

		got, err := repo.FindById(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, payment.Id, got.Id)
		require.Equal(t, payment.PurchaseId, got.PurchaseId)
		require.Equal(t, payment.Memo, got.Memo)
		require.Equal(t, payment.Status, got.Status)
		require.True(t, payment.RequestedAmount.Equal(got.RequestedAmount))
		require.True(t, got.PaidAmount.IsZero())
		require.True(t, payment.Deadline.Equal(got.Deadline))

		err = repo.Add(ctx, payment)
		require.ErrorIs(t, err, domain.ErrPaymentExists)

		// same memo on the same address while the first is open
		err = repo.Add(ctx, makePayment(address, "gimlee:1"))
		require.ErrorIs(t, err, domain.ErrDuplicateMemo)

		// same memo elsewhere is fine
		yec := makePayment("zs1"+uuid.New().String(), "gimlee:1")
		yec.Currency = domain.YEC
		require.NoError(t, repo.Add(ctx, yec))

		_, err = repo.FindById(ctx, uuid.New().String())
		require.ErrorIs(t, err, domain.ErrPaymentNotFound)

		byPurchase, err := repo.FindByPurchaseId(ctx, payment.PurchaseId)
		require.NoError(t, err)
		require.Len(t, byPurchase, 1)

		pending, err := repo.FindAllByStatusAndCurrency(
			ctx, domain.PaymentAwaitingConfirmation, domain.YEC,
		)
		require.NoError(t, err)
		require.True(t, containsPayment(pending, yec.Id))
		require.False(t, containsPayment(pending, payment.Id))

		progress := *got
		progress.PaidAmount = decimal.RequireFromString("4.25")
		progress.UpdatedAt = t0.Add(time.Minute)
		require.NoError(t, repo.Save(ctx, progress))

		decreased := progress
		decreased.PaidAmount = decimal.NewFromInt(1)
		require.ErrorIs(t, repo.Save(ctx, decreased), domain.ErrPaidAmountDecreased)

		done := progress
		done.Status = domain.PaymentCompleteUnderpaid
		done.UpdatedAt = t0.Add(2 * time.Minute)
		require.NoError(t, repo.Save(ctx, done))

		got, err = repo.FindById(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, domain.PaymentCompleteUnderpaid, got.Status)
		require.Equal(t, "4.25", got.PaidAmount.String())
		require.True(t, done.UpdatedAt.Equal(got.UpdatedAt))

		again := *got
		again.Status = domain.PaymentComplete
		again.PaidAmount = decimal.RequireFromString("10.5")
		require.ErrorIs(t, repo.Save(ctx, again), domain.ErrPaymentFinalized)

		completed, err := repo.FindAllByStatus(ctx, domain.PaymentCompleteUnderpaid)
		require.NoError(t, err)
		require.True(t, containsPayment(completed, payment.Id))

		// memo is free again once the payment is terminal
		require.NoError(t, repo.Add(ctx, makePayment(address, "gimlee:1")))

		missing := makePayment(address, "gimlee:missing")
		require.ErrorIs(t, repo.Save(ctx, missing), domain.ErrPaymentNotFound)
	})
}

func testExchangeRateRepository(t *testing.T, svc ports.RepoManager) {
	t.Run("exchange rate repository", func(t *testing.T) {
		repo := svc.ExchangeRates()

		_, err := repo.FindLatest(ctx, domain.EUR, domain.PLN)
		require.ErrorIs(t, err, domain.ErrRateNotFound)

		rates := []domain.ExchangeRate{
			makeRate(domain.ARRR, domain.USDT, "0.2", t0.Add(-72*time.Hour)),
			makeRate(domain.ARRR, domain.USDT, "0.25", t0.Add(-30*time.Hour)),
			makeRate(domain.ARRR, domain.USDT, "0.3", t0.Add(-time.Hour)),
			makeRate(domain.EUR, domain.PLN, "4.27", t0.Add(-100*time.Hour)),
			makeRate(domain.USD, domain.PLN, "3.95", t0),
		}
		rates[2].IsVolatile = true
		for _, r := range rates {
			require.NoError(t, repo.Save(ctx, r))
		}

		latest, err := repo.FindLatest(ctx, domain.ARRR, domain.USDT)
		require.NoError(t, err)
		require.Equal(t, rates[2].Id, latest.Id)
		require.Equal(t, "0.3", latest.Rate.String())
		require.True(t, latest.IsVolatile)
		require.Equal(t, "test", latest.Source)
		require.True(t, rates[2].UpdatedAt.Equal(latest.UpdatedAt))

		all, err := repo.FindAllLatest(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		byPair := domain.LatestByPair(all)
		require.Equal(t, rates[3].Id, byPair[rates[3].Pair()].Id)

		since, err := repo.FindSince(ctx, domain.ARRR, domain.USDT, t0.Add(-48*time.Hour))
		require.NoError(t, err)
		require.Len(t, since, 2)
		require.Equal(t, rates[1].Id, since[0].Id)
		require.Equal(t, rates[2].Id, since[1].Id)

		deleted, err := repo.DeleteOlderThan(ctx, t0.Add(-48*time.Hour))
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)

		// the only EUR/PLN rate survives even though it is old
		latest, err = repo.FindLatest(ctx, domain.EUR, domain.PLN)
		require.NoError(t, err)
		require.Equal(t, rates[3].Id, latest.Id)

		since, err = repo.FindSince(ctx, domain.ARRR, domain.USDT, t0.Add(-96*time.Hour))
		require.NoError(t, err)
		require.Len(t, since, 2)
	})
}

func testLocker(t *testing.T, svc ports.RepoManager) {
	t.Run("locker", func(t *testing.T) {
		locker := svc.Locker()
		name := "test-" + uuid.New().String()

		release, ok, err := locker.TryLock(ctx, name, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		release()

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			acquired int
		)
		releases := make([]func(), 0)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, ok, err := locker.TryLock(ctx, name, time.Minute)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				acquired++
				releases = append(releases, release)
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.LessOrEqual(t, acquired, 1)
		for _, r := range releases {
			r()
		}

		release, ok, err = locker.TryLock(ctx, name, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		release()
	})
}

func makeRate(base, quote domain.Currency, rate string, at time.Time) domain.ExchangeRate {
	return domain.ExchangeRate{
		Id:            uuid.New().String(),
		BaseCurrency:  base,
		QuoteCurrency: quote,
		Rate:          decimal.RequireFromString(rate),
		UpdatedAt:     at,
		Source:        "test",
	}
}

func containsPayment(payments []domain.Payment, id string) bool {
	for _, p := range payments {
		if p.Id == id {
			return true
		}
	}
	return false
}
