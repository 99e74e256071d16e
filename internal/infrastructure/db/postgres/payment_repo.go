package pgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation = "23505"
	openMemoIndex   = "idx_payment_open_memo"

	paymentColumns = `id, purchase_id, buyer_id, seller_id, requested_amount::text, paid_amount::text,
	currency, memo, receiving_address, status, deadline, created_at, updated_at`
)

type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) (domain.PaymentRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("cannot open payment repository: pool is nil")
	}
	return &paymentRepository{pool}, nil
}

func (r *paymentRepository) Add(ctx context.Context, payment domain.Payment) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment (id, purchase_id, buyer_id, seller_id, requested_amount, paid_amount,
			currency, memo, receiving_address, status, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11, $12, $13)`,
		payment.Id, payment.PurchaseId, payment.BuyerId, payment.SellerId,
		payment.RequestedAmount.String(), payment.PaidAmount.String(),
		string(payment.Currency), payment.Memo, payment.ReceivingAddress, string(payment.Status),
		payment.Deadline.UTC(), payment.CreatedAt.UTC(), payment.UpdatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == openMemoIndex {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateMemo, payment.Memo)
			}
			return fmt.Errorf("%w: %s", domain.ErrPaymentExists, payment.Id)
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// Save locks the row, validates the update against it and writes it.
func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	return execTx(ctx, r.pool, func(tx pgx.Tx) error {
		stored, err := scanPayment(tx.QueryRow(ctx,
			`SELECT `+paymentColumns+` FROM payment WHERE id = $1 FOR UPDATE`, payment.Id,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrPaymentNotFound, payment.Id)
			}
			return err
		}
		if err := domain.CheckUpdate(*stored, payment); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE payment SET status = $1, paid_amount = $2::numeric, updated_at = $3 WHERE id = $4`,
			string(payment.Status), payment.PaidAmount.String(), payment.UpdatedAt.UTC(), payment.Id,
		); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		return nil
	})
}

func (r *paymentRepository) FindById(ctx context.Context, id string) (*domain.Payment, error) {
	payment, err := scanPayment(r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
		`SELECT `+paymentColumns+` FROM payment WHERE purchase_id = $1 ORDER BY created_at, id`,
		purchaseId,
	)
}

func (r *paymentRepository) FindAllByStatus(
	ctx context.Context, status domain.PaymentStatus,
) ([]domain.Payment, error) {
	return r.query(ctx,
		`SELECT `+paymentColumns+` FROM payment WHERE status = $1 ORDER BY created_at, id`,
		string(status),
	)
}

func (r *paymentRepository) FindAllByStatusAndCurrency(
	ctx context.Context, status domain.PaymentStatus, currency domain.Currency,
) ([]domain.Payment, error) {
	return r.query(ctx,
		`SELECT `+paymentColumns+` FROM payment
		WHERE status = $1 AND currency = $2 ORDER BY created_at, id`,
		string(status), string(currency),
	)
}

func (r *paymentRepository) Close() {}

func (r *paymentRepository) query(ctx context.Context, q string, args ...any) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
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

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                                 domain.Payment
		requested, paid, currency, status string
		deadline, createdAt, updatedAt    time.Time
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
	p.Deadline = deadline.UTC()
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}
