package types

import (
	"github.com/gimlee/settlement/internal/core/application"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
)

type ExchangeRate struct {
	Base       string `json:"base"`
	Quote      string `json:"quote"`
	Rate       string `json:"rate"`
	Source     string `json:"source"`
	UpdatedAt  string `json:"updatedAt"`
	IsVolatile bool   `json:"isVolatile"`
}

func NewExchangeRate(r domain.ExchangeRate) ExchangeRate {
	return ExchangeRate{
		Base:       r.BaseCurrency.String(),
		Quote:      r.QuoteCurrency.String(),
		Rate:       r.Rate.String(),
		Source:     r.Source,
		UpdatedAt:  formatTime(r.UpdatedAt),
		IsVolatile: r.IsVolatile,
	}
}

type ConversionStep struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rate string `json:"rate"`
	// Inverted is true when the step walks a stored rate backwards.
	Inverted bool   `json:"inverted"`
	Source   string `json:"source"`
}

type Conversion struct {
	From         string           `json:"from"`
	To           string           `json:"to"`
	Amount       string           `json:"amount"`
	TargetAmount string           `json:"targetAmount"`
	Steps        []ConversionStep `json:"steps"`
	UpdatedAt    string           `json:"updatedAt"`
	IsVolatile   bool             `json:"isVolatile"`
}

func NewConversion(amount string, res application.ConversionResult) Conversion {
	steps := make([]ConversionStep, 0, len(res.Steps))
	for _, s := range res.Steps {
		steps = append(steps, ConversionStep{
			From:     s.BaseCurrency.String(),
			To:       s.QuoteCurrency.String(),
			Rate:     s.Rate.String(),
			Inverted: s.SourceExchangeRate.BaseCurrency != s.BaseCurrency,
			Source:   s.SourceExchangeRate.Source,
		})
	}
	return Conversion{
		From:         res.From.String(),
		To:           res.To.String(),
		Amount:       amount,
		TargetAmount: res.TargetAmount.Round(res.To.Precision()).String(),
		Steps:        steps,
		UpdatedAt:    formatTime(res.UpdatedAt),
		IsVolatile:   res.IsVolatile,
	}
}

type VolatilityState struct {
	Currency         string `json:"currency"`
	IsVolatile       bool   `json:"isVolatile"`
	IsStale          bool   `json:"isStale"`
	StartTime        string `json:"startTime,omitempty"`
	CooldownEndsAt   string `json:"cooldownEndsAt,omitempty"`
	MaxPriceInWindow string `json:"maxPriceInWindow"`
	CurrentPrice     string `json:"currentPrice"`
	CurrentDropPct   string `json:"currentDropPct"`
	LastPriceAt      string `json:"lastPriceAt,omitempty"`
}

func NewVolatilityState(s application.VolatilityState) VolatilityState {
	return VolatilityState{
		Currency:         s.Currency.String(),
		IsVolatile:       s.IsVolatile,
		IsStale:          s.IsStale,
		StartTime:        formatTime(s.StartTime),
		CooldownEndsAt:   formatTime(s.CooldownEndsAt),
		MaxPriceInWindow: s.MaxPriceInWindow.String(),
		CurrentPrice:     s.CurrentPrice.String(),
		CurrentDropPct:   s.CurrentDropPct.String(),
		LastPriceAt:      formatTime(s.LastPriceAt),
	}
}

type Job struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
	LastRun  string `json:"lastRun,omitempty"`
	NextRun  string `json:"nextRun,omitempty"`
	Runs     uint64 `json:"runs"`
	Skipped  uint64 `json:"skipped"`
	Running  bool   `json:"running"`
}

type Health struct {
	Status string `json:"status"`
	Jobs   []Job  `json:"jobs"`
}

func NewJob(j ports.JobInfo) Job {
	return Job{
		Name:     j.Name,
		Interval: j.Interval.String(),
		LastRun:  formatTime(j.LastRun),
		NextRun:  formatTime(j.NextRun),
		Runs:     j.Runs,
		Skipped:  j.Skipped,
		Running:  j.Running,
	}
}
