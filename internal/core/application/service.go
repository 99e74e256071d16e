package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type Config struct {
	MemoPrefix      string
	PaymentTimeout  time.Duration
	Rails           []MonitorConfig
	RatePairs       []domain.CurrencyPair
	FetchInterval   time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	CleanupLockTTL  time.Duration
	Volatility      VolatilityConfig
	FetchOnStart    bool
	RestoreOnStart  bool
}

// Service wires the settlement components together and owns their schedule.
type Service struct {
	BuildInfo BuildInfo

	cfg       Config
	repoSvc   ports.RepoManager
	scheduler ports.SchedulerService

	payments  *PaymentService
	monitors  []*PaymentMonitor
	converter *Converter
	tracker   *VolatilityTracker
	fetcher   *RateFetcher
	retention *RetentionJob

	mu      sync.Mutex
	started bool
}

func NewService(
	buildInfo BuildInfo, cfg Config,
	repoSvc ports.RepoManager, schedulerSvc ports.SchedulerService,
	ledgers map[domain.Currency]ports.LedgerService,
	providers []ports.PriceProvider, notifier ports.PaymentNotifier,
) (*Service, error) {
	if cfg.FetchInterval <= 0 {
		return nil, fmt.Errorf("rate fetch interval must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive")
	}
	if cfg.Volatility.StaleAfter <= 0 {
		cfg.Volatility.StaleAfter = 2 * cfg.FetchInterval
	}

	monitors := make([]*PaymentMonitor, 0, len(cfg.Rails))
	for _, rail := range cfg.Rails {
		if rail.PollInterval <= 0 {
			return nil, fmt.Errorf("%s poll interval must be positive", rail.Currency)
		}
		monitor, err := NewPaymentMonitor(rail, ledgers[rail.Currency], repoSvc.Payments(), notifier)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, monitor)
	}

	converter := NewConverter(repoSvc.ExchangeRates())
	tracker := NewVolatilityTracker(cfg.Volatility, converter, repoSvc.ExchangeRates())
	converter.SetVolatilitySource(tracker)

	fetcher, err := NewRateFetcher(cfg.RatePairs, providers, repoSvc.ExchangeRates(), tracker)
	if err != nil {
		return nil, err
	}
	retention, err := NewRetentionJob(
		repoSvc.ExchangeRates(), repoSvc.Locker(), cfg.Retention, cfg.CleanupLockTTL,
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		BuildInfo: buildInfo,
		cfg:       cfg,
		repoSvc:   repoSvc,
		scheduler: schedulerSvc,
		payments:  NewPaymentService(repoSvc.Payments(), notifier, cfg.MemoPrefix, cfg.PaymentTimeout),
		monitors:  monitors,
		converter: converter,
		tracker:   tracker,
		fetcher:   fetcher,
		retention: retention,
	}, nil
}

// Start restores volatility windows, optionally fetches rates right away and
// schedules every job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.cfg.RestoreOnStart {
		if err := s.tracker.Restore(ctx); err != nil {
			log.WithError(err).Warn("failed to restore volatility windows")
		}
	}
	if s.cfg.FetchOnStart {
		s.fetcher.Run(ctx)
	}

	for _, m := range s.monitors {
		name := fmt.Sprintf("payment-monitor-%s", m.Currency())
		if err := s.scheduler.ScheduleEvery(name, m.PollInterval(), m.Run); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", name, err)
		}
	}
	if err := s.scheduler.ScheduleEvery("rate-fetcher", s.cfg.FetchInterval, s.fetcher.Run); err != nil {
		return fmt.Errorf("failed to schedule rate fetcher: %w", err)
	}
	if err := s.scheduler.ScheduleEvery(
		"rate-retention", s.cfg.CleanupInterval, s.retention.Run,
	); err != nil {
		return fmt.Errorf("failed to schedule rate retention: %w", err)
	}

	s.scheduler.Start()
	s.started = true

	log.WithFields(log.Fields{
		"rails": len(s.monitors),
		"pairs": len(s.fetcher.Pairs()),
	}).Info("settlement engine started")
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.scheduler.Stop()
	s.started = false
	log.Info("settlement engine stopped")
}

func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Service) Payments() *PaymentService {
	return s.payments
}

func (s *Service) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.GetPayment(ctx, id)
}

func (s *Service) Convert(
	ctx context.Context, amount decimal.Decimal, from, to domain.Currency,
) (*ConversionResult, error) {
	return s.converter.Convert(ctx, amount, from, to)
}

func (s *Service) VolatilityStates() []VolatilityState {
	return s.tracker.States()
}

func (s *Service) LatestRates(ctx context.Context) ([]domain.ExchangeRate, error) {
	return s.repoSvc.ExchangeRates().FindAllLatest(ctx)
}

func (s *Service) Jobs() []ports.JobInfo {
	return s.scheduler.Jobs()
}
