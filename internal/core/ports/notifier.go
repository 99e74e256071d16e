package ports

import (
	"context"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

type PaymentResolvedEvent struct {
	PaymentId  string               `json:"paymentId"`
	PurchaseId string               `json:"purchaseId"`
	Status     domain.PaymentStatus `json:"status"`
	PaidAmount decimal.Decimal      `json:"paidAmount"`
	Currency   domain.Currency      `json:"currency"`
	ResolvedAt time.Time            `json:"resolvedAt"`
}

// PaymentNotifier forwards terminal payment transitions to the order flow.
type PaymentNotifier interface {
	NotifyPaymentResolved(ctx context.Context, event PaymentResolvedEvent) error
}
