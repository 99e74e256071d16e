package domain

import "errors"

var (
	ErrUnknownCurrency     = errors.New("unknown currency")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentExists       = errors.New("payment already exists")
	ErrDuplicateMemo       = errors.New("memo already used by a pending payment on this address")
	ErrPaymentFinalized    = errors.New("payment is in a terminal status")
	ErrInvalidTransition   = errors.New("invalid payment status transition")
	ErrPaidAmountDecreased = errors.New("paid amount cannot decrease")
	ErrRateNotFound        = errors.New("exchange rate not found")
)
