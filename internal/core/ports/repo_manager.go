package ports

import "github.com/gimlee/settlement/internal/core/domain"

type RepoManager interface {
	Payments() domain.PaymentRepository
	ExchangeRates() domain.ExchangeRateRepository
	Locker() Locker
	Close()
}
