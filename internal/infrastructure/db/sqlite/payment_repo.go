package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const paymentColumns = `id, purchase_id, buyer_id, seller_id, requested_amount, paid_amount,
	currency, memo, receiving_address, status, deadline, created_at, updated_at`

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) (domain.PaymentRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("cannot open payment repository: db is nil")
	}
	return &paymentRepository{db: db}, nil
}

func (r *paymentRepository) Add(ctx context.Context, payment domain.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.Id, payment.PurchaseId, payment.BuyerId, payment.SellerId,
		payment.RequestedAmount.String(), payment.PaidAmount.String(),
		string(payment.Currency), payment.Memo, payment.ReceivingAddress, string(payment.Status),
		payment.Deadline.UnixNano(), payment.CreatedAt.UnixNano(), payment.UpdatedAt.UnixNano(),
	)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) {
			switch sqlErr.Code() {
			case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
				return fmt.Errorf("%w: %s", domain.ErrPaymentExists, payment.Id)
			case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
				return fmt.Errorf("%w: %s", domain.ErrDuplicateMemo, payment.Memo)
			}
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// Save updates status and paid amount. The update is conditioned on the row
// still holding what was validated, so a concurrent writer cannot be
// overwritten.
func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	txBody := func(tx *sql.Tx) error {
		stored, err := scanPayment(tx.QueryRowContext(ctx,
			`SELECT `+paymentColumns+` FROM payment WHERE id = ?`, payment.Id,
		))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, payment.Id)
			}
			return err
		}
		if err := domain.CheckUpdate(*stored, payment); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE payment SET status = ?, paid_amount = ?, updated_at = ?
			WHERE id = ? AND status = ? AND paid_amount = ?`,
			string(payment.Status), payment.PaidAmount.String(), payment.UpdatedAt.UnixNano(),
			payment.Id, string(stored.Status), stored.PaidAmount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("payment %s was modified concurrently", payment.Id)
		}
		return nil
	}
	return execTx(ctx, r.db, txBody)
}

func (r *paymentRepository) FindById(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, id)
		}
		return nil, err
	}
	return payment, nil
}

func (r *paymentRepository) FindByPurchaseId(
	ctx context.Context, purchaseId string,
) ([]domain.Payment, error) {
	return r.query(ctx,
		`SELECT `+paymentColumns+` FROM payment WHERE purchase_id = ? ORDER BY created_at, id`,
		purchaseId,
	)
}

func (r *paymentRepository) FindAllByStatus(
	ctx context.Context, status domain.PaymentStatus,
) ([]domain.Payment, error) {
	return r.query(ctx,
		`SELECT `+paymentColumns+` FROM payment WHERE status = ? ORDER BY created_at, id`,
		string(status),
	)
}

func (r *paymentRepository) FindAllByStatusAndCurrency(
	ctx context.Context, status domain.PaymentStatus, currency domain.Currency,
) ([]domain.Payment, error) {
	return r.query(ctx,
		`SELECT `+paymentColumns+` FROM payment
		WHERE status = ? AND currency = ? ORDER BY created_at, id`,
		string(status), string(currency),
	)
}

func (r *paymentRepository) Close() {
	// nolint
	r.db.Close()
}

func (r *paymentRepository) query(ctx context.Context, q string, args ...any) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	// nolint:errcheck
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (*domain.Payment, error) {
	var (
		p                                 domain.Payment
		requested, paid, currency, status string
		deadline, createdAt, updatedAt    int64
	)
	if err := row.Scan(
		&p.Id, &p.PurchaseId, &p.BuyerId, &p.SellerId, &requested, &paid,
		&currency, &p.Memo, &p.ReceivingAddress, &status, &deadline, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if p.RequestedAmount, err = decimal.NewFromString(requested); err != nil {
		return nil, fmt.Errorf("invalid requested amount for payment %s: %w", p.Id, err)
	}
	if p.PaidAmount, err = decimal.NewFromString(paid); err != nil {
		return nil, fmt.Errorf("invalid paid amount for payment %s: %w", p.Id, err)
	}
	p.Currency = domain.Currency(currency)
	p.Status = domain.PaymentStatus(status)
	p.Deadline = time.Unix(0, deadline).UTC()
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}
