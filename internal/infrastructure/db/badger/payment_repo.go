package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/timshannon/badgerhold/v4"
)

const (
	paymentDir = "payment"
)

type paymentRepository struct {
	store *badgerhold.Store
}

func NewPaymentRepository(baseDir string, logger badger.Logger) (domain.PaymentRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, paymentDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open payment store: %s", err)
	}
	return &paymentRepository{store}, nil
}

type paymentData struct {
	Id               string
	PurchaseId       string
	BuyerId          string
	SellerId         string
	RequestedAmount  string
	PaidAmount       string
	Currency         string
	Memo             string
	ReceivingAddress string
	Status           string
	Deadline         int64
	CreatedAt        int64
	UpdatedAt        int64
}

// Add stores a new payment, enforcing memo uniqueness among the open
// payments of the same receiving address.
func (r *paymentRepository) Add(ctx context.Context, payment domain.Payment) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		if !payment.Status.IsTerminal() {
			var open []paymentData
			query := badgerhold.Where("ReceivingAddress").Eq(payment.ReceivingAddress).
				And("Memo").Eq(payment.Memo).
				And("Status").In(openStatuses()...)
			if err := r.store.TxFind(tx, &open, query); err != nil {
				return err
			}
			if len(open) > 0 {
				return fmt.Errorf(
					"%w: %s already used by payment %s", domain.ErrDuplicateMemo, payment.Memo, open[0].Id,
				)
			}
		}

		if err := r.store.TxInsert(tx, payment.Id, toPaymentData(payment)); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("%w: %s", domain.ErrPaymentExists, payment.Id)
			}
			return err
		}
		return nil
	})
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	return r.store.Badger().Update(func(tx *badger.Txn) error {
		var data paymentData
		if err := r.store.TxGet(tx, payment.Id, &data); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, payment.Id)
			}
			return err
		}
		stored, err := data.toPayment()
		if err != nil {
			return err
		}
		if err := domain.CheckUpdate(*stored, payment); err != nil {
			return err
		}

		stored.Status = payment.Status
		stored.PaidAmount = payment.PaidAmount
		stored.UpdatedAt = payment.UpdatedAt
		return r.store.TxUpdate(tx, payment.Id, toPaymentData(*stored))
	})
}

func (r *paymentRepository) FindById(ctx context.Context, id string) (*domain.Payment, error) {
	var data paymentData
	if err := r.store.Get(id, &data); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
		}
		return nil, err
	}
	return data.toPayment()
}

func (r *paymentRepository) FindByPurchaseId(
	ctx context.Context, purchaseId string,
) ([]domain.Payment, error) {
	return r.find(badgerhold.Where("PurchaseId").Eq(purchaseId))
}

func (r *paymentRepository) FindAllByStatus(
	ctx context.Context, status domain.PaymentStatus,
) ([]domain.Payment, error) {
	return r.find(badgerhold.Where("Status").Eq(string(status)))
}

func (r *paymentRepository) FindAllByStatusAndCurrency(
	ctx context.Context, status domain.PaymentStatus, currency domain.Currency,
) ([]domain.Payment, error) {
	return r.find(
		badgerhold.Where("Status").Eq(string(status)).And("Currency").Eq(string(currency)),
	)
}

func (r *paymentRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *paymentRepository) find(query *badgerhold.Query) ([]domain.Payment, error) {
	var rows []paymentData
	if err := r.store.Find(&rows, query.SortBy("CreatedAt", "Id")); err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	payments := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		payment, err := row.toPayment()
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, nil
}

func openStatuses() []interface{} {
	return []interface{}{
		string(domain.PaymentCreated), string(domain.PaymentAwaitingConfirmation),
	}
}

func toPaymentData(p domain.Payment) paymentData {
	return paymentData{
		Id:               p.Id,
		PurchaseId:       p.PurchaseId,
		BuyerId:          p.BuyerId,
		SellerId:         p.SellerId,
		RequestedAmount:  p.RequestedAmount.String(),
		PaidAmount:       p.PaidAmount.String(),
		Currency:         string(p.Currency),
		Memo:             p.Memo,
		ReceivingAddress: p.ReceivingAddress,
		Status:           string(p.Status),
		Deadline:         p.Deadline.UnixNano(),
		CreatedAt:        p.CreatedAt.UnixNano(),
		UpdatedAt:        p.UpdatedAt.UnixNano(),
	}
}

func (d paymentData) toPayment() (*domain.Payment, error) {
	requested, err := decimal.NewFromString(d.RequestedAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid requested amount for payment %s: %w", d.Id, err)
	}
	paid, err := decimal.NewFromString(d.PaidAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid paid amount for payment %s: %w", d.Id, err)
	}
	return &domain.Payment{
		Id:               d.Id,
		PurchaseId:       d.PurchaseId,
		BuyerId:          d.BuyerId,
		SellerId:         d.SellerId,
		RequestedAmount:  requested,
		PaidAmount:       paid,
		Currency:         domain.Currency(d.Currency),
		Memo:             d.Memo,
		ReceivingAddress: d.ReceivingAddress,
		Status:           domain.PaymentStatus(d.Status),
		Deadline:         time.Unix(0, d.Deadline).UTC(),
		CreatedAt:        time.Unix(0, d.CreatedAt).UTC(),
		UpdatedAt:        time.Unix(0, d.UpdatedAt).UTC(),
	}, nil
}
