package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentCreated              PaymentStatus = "CREATED"
	PaymentAwaitingConfirmation PaymentStatus = "AWAITING_CONFIRMATION"
	PaymentComplete             PaymentStatus = "COMPLETE"
	PaymentCompleteOverpaid     PaymentStatus = "COMPLETE_OVERPAID"
	PaymentCompleteUnderpaid    PaymentStatus = "COMPLETE_UNDERPAID"
	PaymentFailedSoftTimeout    PaymentStatus = "FAILED_SOFT_TIMEOUT"
	PaymentFailedHardTimeout    PaymentStatus = "FAILED_HARD_TIMEOUT"
	PaymentCancelled            PaymentStatus = "CANCELLED"
)

// IsTerminal reports whether the status is absorbing: once entered, the
// payment is never written again.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentComplete, PaymentCompleteOverpaid, PaymentCompleteUnderpaid,
		PaymentFailedSoftTimeout, PaymentFailedHardTimeout, PaymentCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentCreated, PaymentAwaitingConfirmation:
		return true
	}
	return s.IsTerminal()
}

// CanTransitionTo checks a move along
// CREATED -> AWAITING_CONFIRMATION -> {terminal}. Staying in the same
// non-terminal status is allowed (paid amount updates).
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	switch s {
	case PaymentCreated:
		return next == PaymentCreated || next == PaymentAwaitingConfirmation ||
			next == PaymentCancelled
	case PaymentAwaitingConfirmation:
		return next != PaymentCreated
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Payment is one attempt at paying for a purchase on a single rail.
type Payment struct {
	Id               string
	PurchaseId       string
	BuyerId          string
	SellerId         string
	RequestedAmount  decimal.Decimal
	PaidAmount       decimal.Decimal
	Currency         Currency
	Memo             string
	ReceivingAddress string
	Status           PaymentStatus
	Deadline         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transition validates and applies a status change together with the amount
// observed so far.
func (p *Payment) Transition(next PaymentStatus, paid decimal.Decimal) error {
	if !p.Status.CanTransitionTo(next) {
		if p.Status.IsTerminal() {
			return fmt.Errorf("%w: payment %s is %s", ErrPaymentFinalized, p.Id, p.Status)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	if paid.LessThan(p.PaidAmount) {
		return fmt.Errorf(
			"%w: payment %s from %s to %s", ErrPaidAmountDecreased, p.Id, p.PaidAmount, paid,
		)
	}
	p.Status = next
	p.PaidAmount = paid
	return nil
}

// PaymentRepository stores payments. Payments are never deleted and a
// payment in a terminal status is never overwritten.
type PaymentRepository interface {
	// Add inserts a new payment. It fails with ErrDuplicateMemo when another
	// non-terminal payment to the same receiving address carries the same memo.
	Add(ctx context.Context, payment Payment) error
	// Save updates status and paid amount of an existing, non-terminal payment.
	Save(ctx context.Context, payment Payment) error
	FindById(ctx context.Context, id string) (*Payment, error)
	FindByPurchaseId(ctx context.Context, purchaseId string) ([]Payment, error)
	FindAllByStatus(ctx context.Context, status PaymentStatus) ([]Payment, error)
	FindAllByStatusAndCurrency(
		ctx context.Context, status PaymentStatus, currency Currency,
	) ([]Payment, error)
	Close()
}

// CheckUpdate validates that stored can be replaced by updated.
func CheckUpdate(stored, updated Payment) error {
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: payment %s is %s", ErrPaymentFinalized, stored.Id, stored.Status)
	}
	if !stored.Status.CanTransitionTo(updated.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stored.Status, updated.Status)
	}
	if updated.PaidAmount.LessThan(stored.PaidAmount) {
		return fmt.Errorf(
			"%w: payment %s from %s to %s",
			ErrPaidAmountDecreased, stored.Id, stored.PaidAmount, updated.PaidAmount,
		)
	}
	return nil
}
