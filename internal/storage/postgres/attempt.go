package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

const (
	saveAttemptSQL = `INSERT INTO payment_attempts (
			checkout_request_id, merchant_request_id, order_id, user_id,
			amount, phone, status, error_code, error_message, retryable,
			receipt_number, payer_phone, paid_amount, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (checkout_request_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			retryable = EXCLUDED.retryable,
			receipt_number = EXCLUDED.receipt_number,
			payer_phone = EXCLUDED.payer_phone,
			paid_amount = EXCLUDED.paid_amount,
			updated_at = EXCLUDED.updated_at`

	getAttemptSQL = `SELECT
			checkout_request_id, merchant_request_id, order_id, user_id,
			amount, phone, status, error_code, error_message, retryable,
			receipt_number, payer_phone, paid_amount, created_at, updated_at
		FROM payment_attempts WHERE checkout_request_id = $1`
)

var _ payment.Store = (*AttemptStore)(nil)

// AttemptStore implements payment.Store backed by PostgreSQL. Attempts are
// upserted by correlation id so callback updates overwrite the initiate-time
// row.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore returns an AttemptStore that uses the given pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

func (s *AttemptStore) Save(ctx context.Context, a *payment.Attempt) error {
	_, err := s.pool.Exec(ctx, saveAttemptSQL,
		a.CheckoutRequestID, a.MerchantRequestID, a.OrderID, a.UserID,
		a.Amount, a.Phone, string(a.Status), a.ErrorCode, a.ErrorMessage, a.Retryable,
		a.ReceiptNumber, a.PayerPhone, a.PaidAmount, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving payment attempt %q: %w", a.CheckoutRequestID, err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, checkoutRequestID string) (*payment.Attempt, error) {
	rows, err := s.pool.Query(ctx, getAttemptSQL, checkoutRequestID)
	if err != nil {
		return nil, fmt.Errorf("getting payment attempt %q: %w", checkoutRequestID, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAttempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("getting payment attempt %q: %w", checkoutRequestID, err)
	}
	return &a, nil
}

func scanAttempt(row pgx.CollectableRow) (payment.Attempt, error) {
	var (
		a      payment.Attempt
		status string
	)
	err := row.Scan(
		&a.CheckoutRequestID, &a.MerchantRequestID, &a.OrderID, &a.UserID,
		&a.Amount, &a.Phone, &status, &a.ErrorCode, &a.ErrorMessage, &a.Retryable,
		&a.ReceiptNumber, &a.PayerPhone, &a.PaidAmount, &a.CreatedAt, &a.UpdatedAt,
	)
	a.Status = payment.Status(status)
	return a, err
}
