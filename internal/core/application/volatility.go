package application

import (
	"context"
	"sync"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type VolatilityConfig struct {
	Currencies []domain.Currency
	// Quote is the reference currency prices are tracked in.
	Quote         domain.Currency
	Window        time.Duration
	DropThreshold decimal.Decimal
	Cooldown      time.Duration
	// StaleAfter is how long a price may go without refresh before the
	// currency is considered stale, and therefore volatile.
	StaleAfter time.Duration
}

type VolatilityState struct {
	Currency         domain.Currency
	IsVolatile       bool
	StartTime        time.Time
	CooldownEndsAt   time.Time
	MaxPriceInWindow decimal.Decimal
	CurrentPrice     decimal.Decimal
	CurrentDropPct   decimal.Decimal
	IsStale          bool
	LastPriceAt      time.Time
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

type volatilityWindow struct {
	samples []pricePoint
	state   VolatilityState
}

// VolatilityTracker flags currencies whose price dropped too far below the
// window maximum, or whose price feed went quiet.
type VolatilityTracker struct {
	cfg       VolatilityConfig
	converter *Converter
	rates     domain.ExchangeRateRepository
	now       func() time.Time

	mu      sync.RWMutex
	windows map[domain.Currency]*volatilityWindow
}

func NewVolatilityTracker(
	cfg VolatilityConfig, converter *Converter, rates domain.ExchangeRateRepository,
) *VolatilityTracker {
	if cfg.Quote == "" {
		cfg.Quote = domain.USDT
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.DropThreshold.IsZero() {
		cfg.DropThreshold = decimal.NewFromFloat(0.1)
	}
	windows := make(map[domain.Currency]*volatilityWindow, len(cfg.Currencies))
	monitored := make([]domain.Currency, 0, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		if _, ok := windows[c]; ok || c == cfg.Quote {
			continue
		}
		windows[c] = &volatilityWindow{state: VolatilityState{Currency: c}}
		monitored = append(monitored, c)
	}
	cfg.Currencies = monitored
	return &VolatilityTracker{
		cfg:       cfg,
		converter: converter,
		rates:     rates,
		now:       time.Now,
		windows:   windows,
	}
}

// IsVolatile is false for currencies that are not monitored. A price older
// than StaleAfter counts as volatile even before the next update cycle.
func (t *VolatilityTracker) IsVolatile(currency domain.Currency) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[currency]
	if !ok {
		return false
	}
	return t.current(w.state, t.now()).IsVolatile
}

func (t *VolatilityTracker) State(currency domain.Currency) (VolatilityState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.windows[currency]
	if !ok {
		return VolatilityState{}, false
	}
	return t.current(w.state, t.now()), true
}

func (t *VolatilityTracker) States() []VolatilityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	states := make([]VolatilityState, 0, len(t.cfg.Currencies))
	for _, c := range t.cfg.Currencies {
		states = append(states, t.current(t.windows[c].state, now))
	}
	return states
}

// current marks a stored state stale when its last price aged past
// StaleAfter since the last evaluation. The stored state is not changed.
func (t *VolatilityTracker) current(s VolatilityState, now time.Time) VolatilityState {
	if s.IsStale || s.LastPriceAt.IsZero() || t.cfg.StaleAfter <= 0 {
		return s
	}
	if now.Sub(s.LastPriceAt) <= t.cfg.StaleAfter {
		return s
	}
	s.IsStale = true
	if !s.IsVolatile {
		s.IsVolatile = true
		s.StartTime = s.LastPriceAt.Add(t.cfg.StaleAfter)
		s.CooldownEndsAt = s.StartTime.Add(t.cfg.Cooldown)
	}
	return s
}

// Restore refills the windows from stored rates, so that a restart does not
// forget a drop that is still inside the window.
func (t *VolatilityTracker) Restore(ctx context.Context) error {
	now := t.now()
	since := now.Add(-t.cfg.Window)

	for _, c := range t.cfg.Currencies {
		rows, err := t.rates.FindSince(ctx, c, t.cfg.Quote, since)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		t.mu.Lock()
		w := t.windows[c]
		for _, r := range rows {
			w.add(pricePoint{r.UpdatedAt, r.Rate})
		}
		t.evaluate(w, now)
		state := w.state
		t.mu.Unlock()

		log.WithFields(log.Fields{
			"currency": c,
			"samples":  len(rows),
			"volatile": state.IsVolatile,
		}).Debug("restored volatility window")
	}
	return nil
}

// UpdateVolatilityStates samples the current price of every monitored
// currency and recomputes its state.
func (t *VolatilityTracker) UpdateVolatilityStates(ctx context.Context) {
	one := decimal.NewFromInt(1)

	for _, c := range t.cfg.Currencies {
		// priced outside the lock: the converter asks IsVolatile
		var sample *pricePoint
		res, err := t.converter.Convert(ctx, one, c, t.cfg.Quote)
		if err != nil {
			log.WithError(err).WithField("currency", c).Debug("no price for volatility tracking")
		} else {
			sample = &pricePoint{res.UpdatedAt, res.TargetAmount}
		}

		t.mu.Lock()
		w := t.windows[c]
		wasVolatile := w.state.IsVolatile
		if sample != nil {
			w.add(*sample)
		}
		t.evaluate(w, t.now())
		state := w.state
		t.mu.Unlock()

		if state.IsVolatile != wasVolatile {
			logger := log.WithFields(log.Fields{
				"currency": c,
				"drop":     state.CurrentDropPct.StringFixed(4),
				"max":      state.MaxPriceInWindow.String(),
				"price":    state.CurrentPrice.String(),
				"stale":    state.IsStale,
			})
			if state.IsVolatile {
				logger.Warn("currency entered volatile state")
			} else {
				logger.Info("currency left volatile state")
			}
		}
	}
}

// add appends a sample unless it is not newer than the last one.
func (w *volatilityWindow) add(p pricePoint) {
	if n := len(w.samples); n > 0 && !p.at.After(w.samples[n-1].at) {
		return
	}
	w.samples = append(w.samples, p)
	w.state.LastPriceAt = p.at
}

func (t *VolatilityTracker) evaluate(w *volatilityWindow, now time.Time) {
	// drop samples that left the window, always keeping the newest one
	cutoff := now.Add(-t.cfg.Window)
	keep := 0
	for keep < len(w.samples)-1 && w.samples[keep].at.Before(cutoff) {
		keep++
	}
	w.samples = w.samples[keep:]

	s := &w.state
	s.IsStale = s.LastPriceAt.IsZero() ||
		(t.cfg.StaleAfter > 0 && now.Sub(s.LastPriceAt) > t.cfg.StaleAfter)

	breach := false
	if len(w.samples) > 0 {
		peak := w.samples[0].price
		for _, p := range w.samples[1:] {
			peak = decimal.Max(peak, p.price)
		}
		current := w.samples[len(w.samples)-1].price
		s.MaxPriceInWindow = peak
		s.CurrentPrice = current
		s.CurrentDropPct = decimal.Zero
		if peak.IsPositive() {
			s.CurrentDropPct = peak.Sub(current).DivRound(peak, 8)
		}
		breach = s.CurrentDropPct.GreaterThan(t.cfg.DropThreshold)
	}

	if breach || s.IsStale {
		if !s.IsVolatile {
			s.StartTime = now
		}
		s.IsVolatile = true
		s.CooldownEndsAt = s.StartTime.Add(t.cfg.Cooldown)
		return
	}

	if s.IsVolatile && now.Before(s.CooldownEndsAt) {
		return
	}
	s.IsVolatile = false
	s.StartTime = time.Time{}
	s.CooldownEndsAt = time.Time{}
}
