package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeRepoManager struct {
	payments *memPaymentRepo
	rates    *memRateRepo
	locker   *fakeLocker
}

func (m *fakeRepoManager) Payments() domain.PaymentRepository { return m.payments }

func (m *fakeRepoManager) ExchangeRates() domain.ExchangeRateRepository { return m.rates }

func (m *fakeRepoManager) Locker() ports.Locker { return m.locker }

func (m *fakeRepoManager) Close() {}

type fakeScheduler struct {
	jobs    map[string]time.Duration
	started bool
	stopped bool
}

func (s *fakeScheduler) Start() { s.started = true }
func (s *fakeScheduler) Stop()  { s.stopped = true }

func (s *fakeScheduler) ScheduleEvery(name string, every time.Duration, _ func(ctx context.Context)) error {
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	s.jobs[name] = every
	return nil
}

func (s *fakeScheduler) Jobs() []ports.JobInfo {
	jobs := make([]ports.JobInfo, 0, len(s.jobs))
	for name, every := range s.jobs {
		jobs = append(jobs, ports.JobInfo{Name: name, Interval: every})
	}
	return jobs
}

func testServiceConfig() Config {
	return Config{
		MemoPrefix:     "gimlee:",
		PaymentTimeout: time.Hour,
		Rails: []MonitorConfig{
			{Currency: domain.ARRR, PollInterval: 30 * time.Second, MinConfirmations: 1},
		},
		RatePairs:       []domain.CurrencyPair{arrrUsdt},
		FetchInterval:   time.Minute,
		Retention:       48 * time.Hour,
		CleanupInterval: time.Hour,
		Volatility: VolatilityConfig{
			Currencies:    []domain.Currency{domain.ARRR},
			Quote:         domain.USDT,
			Window:        time.Hour,
			DropThreshold: decimal.RequireFromString("0.1"),
			Cooldown:      30 * time.Minute,
		},
		FetchOnStart:   true,
		RestoreOnStart: true,
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()

	newService := func(t *testing.T, cfg Config) (*Service, *fakeRepoManager, *fakeScheduler) {
		repos := &fakeRepoManager{newMemPaymentRepo(), &memRateRepo{}, &fakeLocker{}}
		sched := &fakeScheduler{jobs: make(map[string]time.Duration)}
		provider := &fakeProvider{name: "p", pairs: map[domain.CurrencyPair]string{arrrUsdt: "0.25"}}
		svc, err := NewService(
			BuildInfo{Version: "test"}, cfg, repos, sched,
			map[domain.Currency]ports.LedgerService{domain.ARRR: newFakeLedger(domain.ARRR)},
			[]ports.PriceProvider{provider}, &recordingNotifier{},
		)
		require.NoError(t, err)
		return svc, repos, sched
	}

	t.Run("start schedules every job", func(t *testing.T) {
		svc, _, sched := newService(t, testServiceConfig())
		require.False(t, svc.IsReady())

		require.NoError(t, svc.Start(ctx))
		require.True(t, svc.IsReady())
		require.True(t, sched.started)
		require.Equal(t, map[string]time.Duration{
			"payment-monitor-ARRR": 30 * time.Second,
			"rate-fetcher":         time.Minute,
			"rate-retention":       time.Hour,
		}, sched.jobs)
		require.Len(t, svc.Jobs(), 3)

		// second start is a no-op
		require.NoError(t, svc.Start(ctx))

		svc.Stop()
		require.False(t, svc.IsReady())
		require.True(t, sched.stopped)
	})

	t.Run("rates are fetched on start", func(t *testing.T) {
		svc, _, _ := newService(t, testServiceConfig())
		require.NoError(t, svc.Start(ctx))
		defer svc.Stop()

		rates, err := svc.LatestRates(ctx)
		require.NoError(t, err)
		require.Len(t, rates, 1)

		res, err := svc.Convert(ctx, decimal.NewFromInt(4), domain.ARRR, domain.USDT)
		require.NoError(t, err)
		require.True(t, res.TargetAmount.Equal(decimal.NewFromInt(1)))
		require.Len(t, svc.VolatilityStates(), 1)
	})

	t.Run("payments", func(t *testing.T) {
		svc, repos, _ := newService(t, testServiceConfig())

		payment, err := svc.Payments().CreatePayment(ctx, CreatePaymentRequest{
			PurchaseId:       "order-1",
			Amount:           decimal.NewFromInt(5),
			Currency:         domain.ARRR,
			ReceivingAddress: testAddress,
		})
		require.NoError(t, err)

		got, err := svc.GetPayment(ctx, payment.Id)
		require.NoError(t, err)
		require.Equal(t, "gimlee:order-1", got.Memo)
		require.Equal(t, payment.Id, repos.payments.get(payment.Id).Id)
	})

	t.Run("invalid config", func(t *testing.T) {
		repos := &fakeRepoManager{newMemPaymentRepo(), &memRateRepo{}, &fakeLocker{}}
		sched := &fakeScheduler{jobs: make(map[string]time.Duration)}
		provider := &fakeProvider{name: "p", pairs: map[domain.CurrencyPair]string{arrrUsdt: "0.25"}}
		ledgers := map[domain.Currency]ports.LedgerService{domain.ARRR: newFakeLedger(domain.ARRR)}

		fixtures := map[string]func(c *Config){
			"no fetch interval":   func(c *Config) { c.FetchInterval = 0 },
			"no cleanup interval": func(c *Config) { c.CleanupInterval = 0 },
			"no poll interval":    func(c *Config) { c.Rails[0].PollInterval = 0 },
			"rail without ledger": func(c *Config) {
				c.Rails = append(c.Rails, MonitorConfig{Currency: domain.YEC, PollInterval: time.Minute})
			},
			"unsupported pair": func(c *Config) {
				c.RatePairs = append(c.RatePairs, usdPln)
			},
			"no retention": func(c *Config) { c.Retention = 0 },
		}
		for name, mutate := range fixtures {
			t.Run(name, func(t *testing.T) {
				cfg := testServiceConfig()
				mutate(&cfg)
				svc, err := NewService(
					BuildInfo{}, cfg, repos, sched, ledgers,
					[]ports.PriceProvider{provider}, &recordingNotifier{},
				)
				require.Error(t, err)
				require.Nil(t, svc)
			})
		}
	})
}
