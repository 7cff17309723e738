package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vnshop-orders/internal/domain/payment"
)

const (
	insertPaymentSQL = `INSERT INTO payment_transactions (txn_ref, order_id, amount, bank_code, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	getPaymentSQL = `SELECT txn_ref, order_id, amount, bank_code, response_code, response_message,
		secure_hash, created_at, resolved_at
		FROM payment_transactions WHERE txn_ref = $1`

	resolvePaymentSQL = `UPDATE payment_transactions SET
			response_code = $2, response_message = $3, secure_hash = $4,
			bank_code = COALESCE(NULLIF($5, ''), bank_code), resolved_at = $6
		WHERE txn_ref = $1 AND response_code IS NULL`
)

var _ payment.Store = (*PaymentRepository)(nil)

// PaymentRepository stores gateway transactions in PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) CreatePending(ctx context.Context, t *payment.Transaction) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertPaymentSQL,
		t.TxnRef, t.OrderID, t.Amount, t.BankCode, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrapf(err, "transaction %s already exists", t.TxnRef)
		}
		return fmt.Errorf("creating transaction %s: %w", t.TxnRef, err)
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, txnRef string) (*payment.Transaction, error) {
	var t payment.Transaction
	err := conn(ctx, r.pool).QueryRow(ctx, getPaymentSQL, txnRef).Scan(
		&t.TxnRef, &t.OrderID, &t.Amount, &t.BankCode, &t.ResponseCode, &t.ResponseMessage,
		&t.SecureHash, &t.CreatedAt, &t.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("getting transaction %s: %w", txnRef, err)
	}
	return &t, nil
}

// Resolve writes the callback outcome only while response_code is still
// NULL. The boolean reports whether this call was the one that wrote it.
func (r *PaymentRepository) Resolve(ctx context.Context, res payment.Resolution) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, resolvePaymentSQL,
		res.TxnRef, res.ResponseCode, res.Message, res.SecureHash, res.BankCode, res.At,
	)
	if err != nil {
		return false, fmt.Errorf("resolving transaction %s: %w", res.TxnRef, err)
	}
	return tag.RowsAffected() == 1, nil
}
