package ports

import (
	"context"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

// ReceivedTx is a shielded output received by an address, as reported by the
// node of a rail. Memo is the raw hex memo field.
type ReceivedTx struct {
	TxId          string
	Memo          string
	Amount        decimal.Decimal
	Confirmations int64
}

// LedgerService is the read-only view a viewing-key wallet gives over one rail.
type LedgerService interface {
	Currency() domain.Currency
	ListReceived(ctx context.Context, address string, minConfirmations int64) ([]ReceivedTx, error)
	Close()
}
