package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	"github.com/gimlee/settlement/pkg/memo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const defaultPaymentTimeout = 2 * time.Hour

type CreatePaymentRequest struct {
	PurchaseId       string
	BuyerId          string
	SellerId         string
	Amount           decimal.Decimal
	Currency         domain.Currency
	ReceivingAddress string
}

// PaymentService registers payment intents on behalf of the order flow. The
// order flow embeds the engine and calls it directly through Service.Payments.
type PaymentService struct {
	payments   domain.PaymentRepository
	notifier   ports.PaymentNotifier
	memoPrefix string
	timeout    time.Duration
	now        func() time.Time
}

func NewPaymentService(
	payments domain.PaymentRepository, notifier ports.PaymentNotifier,
	memoPrefix string, timeout time.Duration,
) *PaymentService {
	if timeout <= 0 {
		timeout = defaultPaymentTimeout
	}
	return &PaymentService{payments, notifier, memoPrefix, timeout, time.Now}
}

// CreatePayment stores a new payment awaiting confirmation. The memo the buyer
// must attach is returned in the payment.
func (s *PaymentService) CreatePayment(
	ctx context.Context, req CreatePaymentRequest,
) (*domain.Payment, error) {
	if strings.TrimSpace(req.PurchaseId) == "" {
		return nil, fmt.Errorf("missing purchase id")
	}
	if strings.TrimSpace(req.ReceivingAddress) == "" {
		return nil, fmt.Errorf("missing receiving address")
	}
	if !req.Currency.IsRail() {
		return nil, fmt.Errorf("%s cannot be used to pay", req.Currency)
	}
	amount := req.Amount.Round(req.Currency.Precision())
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", req.Amount)
	}

	tag := memo.Encode(s.memoPrefix, req.PurchaseId)
	if _, err := memo.EncodeHex(tag, memo.Size); err != nil {
		return nil, fmt.Errorf("invalid memo for purchase %s: %w", req.PurchaseId, err)
	}

	now := s.now()
	payment := domain.Payment{
		Id:               uuid.New().String(),
		PurchaseId:       req.PurchaseId,
		BuyerId:          req.BuyerId,
		SellerId:         req.SellerId,
		RequestedAmount:  amount,
		PaidAmount:       decimal.Zero,
		Currency:         req.Currency,
		Memo:             tag,
		ReceivingAddress: req.ReceivingAddress,
		Status:           domain.PaymentCreated,
		Deadline:         now.Add(s.timeout),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := payment.Transition(domain.PaymentAwaitingConfirmation, decimal.Zero); err != nil {
		return nil, err
	}

	if err := s.payments.Add(ctx, payment); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"payment":  payment.Id,
		"purchase": payment.PurchaseId,
		"amount":   payment.RequestedAmount.String(),
		"currency": payment.Currency,
		"deadline": payment.Deadline.Format(time.RFC3339),
	}).Info("payment created")

	return &payment, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.payments.FindById(ctx, id)
}

func (s *PaymentService) GetPaymentsByPurchase(
	ctx context.Context, purchaseId string,
) ([]domain.Payment, error) {
	return s.payments.FindByPurchaseId(ctx, purchaseId)
}

// CancelPayment moves a pending payment to CANCELLED and publishes the
// resolution like the monitors do for settled payments.
func (s *PaymentService) CancelPayment(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := s.payments.FindById(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := payment.Transition(domain.PaymentCancelled, payment.PaidAmount); err != nil {
		return nil, err
	}
	now := s.now()
	payment.UpdatedAt = now
	if err := s.payments.Save(ctx, *payment); err != nil {
		return nil, err
	}
	log.WithField("payment", id).Info("payment cancelled")

	if s.notifier == nil {
		return payment, nil
	}
	if err := s.notifier.NotifyPaymentResolved(ctx, ports.PaymentResolvedEvent{
		PaymentId:  payment.Id,
		PurchaseId: payment.PurchaseId,
		Status:     payment.Status,
		PaidAmount: payment.PaidAmount,
		Currency:   payment.Currency,
		ResolvedAt: now,
	}); err != nil {
		log.WithError(err).WithField("payment", id).Warn("failed to publish payment resolution")
	}
	return payment, nil
}
