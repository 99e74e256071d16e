package ports

import (
	"context"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
)

type PriceQuote struct {
	Rate decimal.Decimal
	// Timestamp is the provider's own observation time, zero if unknown.
	Timestamp  time.Time
	IsVolatile bool
}

// PriceProvider is one external price source. FetchPrice returns a nil quote
// when the provider has no price for the pair right now.
type PriceProvider interface {
	Name() string
	Supports(base, quote domain.Currency) bool
	FetchPrice(ctx context.Context, base, quote domain.Currency) (*PriceQuote, error)
}
