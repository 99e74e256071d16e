package types

import (
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
)

type Payment struct {
	Id              string `json:"id"`
	PurchaseId      string `json:"purchaseId"`
	Currency        string `json:"currency"`
	RequestedAmount string `json:"requestedAmount"`
	PaidAmount      string `json:"paidAmount"`
	Memo            string `json:"memo"`
	Address         string `json:"receivingAddress"`
	// Status is one of the domain payment statuses, e.g. AWAITING_CONFIRMATION.
	Status   string `json:"status"`
	Terminal bool   `json:"terminal"`

	Deadline  string `json:"deadline"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func NewPayment(p domain.Payment) Payment {
	return Payment{
		Id:              p.Id,
		PurchaseId:      p.PurchaseId,
		Currency:        p.Currency.String(),
		RequestedAmount: p.RequestedAmount.StringFixed(p.Currency.Precision()),
		PaidAmount:      p.PaidAmount.StringFixed(p.Currency.Precision()),
		Memo:            p.Memo,
		Address:         p.ReceivingAddress,
		Status:          string(p.Status),
		Terminal:        p.Status.IsTerminal(),
		Deadline:        formatTime(p.Deadline),
		CreatedAt:       formatTime(p.CreatedAt),
		UpdatedAt:       formatTime(p.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
