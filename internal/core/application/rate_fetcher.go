package application

import (
	"context"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var DefaultRatePairs = []domain.CurrencyPair{
	{Base: domain.ARRR, Quote: domain.USDT},
	{Base: domain.YEC, Quote: domain.USDT},
	{Base: domain.USDT, Quote: domain.USD},
	{Base: domain.USD, Quote: domain.PLN},
	{Base: domain.EUR, Quote: domain.PLN},
	{Base: domain.XAU, Quote: domain.USD},
}

type FetchResult struct {
	Fetched int
	Failed  []domain.CurrencyPair
}

// RateFetcher keeps the latest rate of every registered pair fresh, asking
// providers in priority order.
type RateFetcher struct {
	pairs     []domain.CurrencyPair
	providers []ports.PriceProvider
	rates     domain.ExchangeRateRepository
	tracker   *VolatilityTracker
	now       func() time.Time
}

func NewRateFetcher(
	pairs []domain.CurrencyPair, providers []ports.PriceProvider,
	rates domain.ExchangeRateRepository, tracker *VolatilityTracker,
) (*RateFetcher, error) {
	if len(pairs) == 0 {
		pairs = DefaultRatePairs
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no price provider configured")
	}
	for _, pair := range pairs {
		if !hasSupport(providers, pair) {
			return nil, fmt.Errorf("no configured provider supports %s", pair)
		}
	}
	return &RateFetcher{pairs, providers, rates, tracker, time.Now}, nil
}

func (f *RateFetcher) Pairs() []domain.CurrencyPair {
	return f.pairs
}

// Run is the scheduler entry point.
func (f *RateFetcher) Run(ctx context.Context) {
	res := f.FetchAll(ctx)
	log.WithFields(log.Fields{
		"fetched": res.Fetched,
		"failed":  len(res.Failed),
	}).Debug("exchange rates fetched")
}

// FetchAll runs one fetch cycle over the registry. Pairs no provider could
// price keep their previous latest rate.
func (f *RateFetcher) FetchAll(ctx context.Context) FetchResult {
	var res FetchResult
	for _, pair := range f.pairs {
		if ctx.Err() != nil {
			break
		}
		rate, ok := f.fetchPair(ctx, pair)
		if !ok {
			res.Failed = append(res.Failed, pair)
			log.WithField("pair", pair).Warn("no provider returned a price, keeping previous rate")
			continue
		}
		if err := f.rates.Save(ctx, *rate); err != nil {
			res.Failed = append(res.Failed, pair)
			log.WithError(err).WithField("pair", pair).Error("failed to store exchange rate")
			continue
		}
		res.Fetched++
	}

	// runs on failed cycles too, so an outage ages prices into staleness
	if f.tracker != nil {
		f.tracker.UpdateVolatilityStates(ctx)
	}
	return res
}

func (f *RateFetcher) fetchPair(
	ctx context.Context, pair domain.CurrencyPair,
) (*domain.ExchangeRate, bool) {
	for _, provider := range f.providers {
		if !provider.Supports(pair.Base, pair.Quote) {
			continue
		}
		logger := log.WithFields(log.Fields{"pair": pair, "provider": provider.Name()})

		quote, err := provider.FetchPrice(ctx, pair.Base, pair.Quote)
		if err != nil {
			logger.WithError(err).Warn("price provider failed, trying next")
			continue
		}
		if quote == nil || !quote.Rate.IsPositive() {
			logger.Debug("price provider has no price, trying next")
			continue
		}

		updatedAt := f.now()
		if !quote.Timestamp.IsZero() && quote.Timestamp.Before(updatedAt) {
			updatedAt = quote.Timestamp
		}
		return &domain.ExchangeRate{
			Id:            uuid.New().String(),
			BaseCurrency:  pair.Base,
			QuoteCurrency: pair.Quote,
			Rate:          quote.Rate,
			UpdatedAt:     updatedAt.UTC(),
			Source:        provider.Name(),
			IsVolatile:    quote.IsVolatile,
		}, true
	}
	return nil, false
}

func hasSupport(providers []ports.PriceProvider, pair domain.CurrencyPair) bool {
	for _, p := range providers {
		if p.Supports(pair.Base, pair.Quote) {
			return true
		}
	}
	return false
}
