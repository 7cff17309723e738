package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vnshop-orders/internal/domain/order"
)

const (
	orderColumns = `id, code, user_id, address_id, payment_method, payment_status, status,
		subtotal, total_amount, COALESCE(voucher_code, ''), voucher_discount, note, status_reason,
		delivered_at, deleted_at, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders
		(code, user_id, address_id, payment_method, payment_status, status,
		 subtotal, total_amount, voucher_code, voucher_discount, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
		RETURNING id, created_at, updated_at`

	insertLineSQL = `INSERT INTO order_lines
		(order_id, product_id, category_id, name, color, size, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND deleted_at IS NULL`

	listLinesSQL = `SELECT id, order_id, product_id, category_id, name, color, size, quantity, unit_price
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE deleted_at IS NULL
		  AND ($1::BIGINT = 0 OR user_id = $1)
		  AND ($2::TEXT = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	updateOrderStatusSQL = `UPDATE orders SET
			status = $3, payment_status = $4, status_reason = $5, delivered_at = $6, updated_at = $7
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`

	deleteUnpaidOrderSQL = `DELETE FROM orders
		WHERE id = $1 AND status = 'pending' AND payment_status = 'unpaid' AND deleted_at IS NULL`

	archiveOrderSQL = `UPDATE orders SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	listDeliveredBeforeSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'delivered' AND delivered_at < $1 AND deleted_at IS NULL
		ORDER BY delivered_at, id
		LIMIT $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and its lines. Callers run it inside
// Transactor.WithinTx so a half-written order is never visible.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)
	err := q.QueryRow(ctx, insertOrderSQL,
		o.Code, o.UserID, o.AddressID, int16(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		o.Subtotal, o.Total, o.VoucherCode, o.VoucherDiscount, o.Note,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Code, err)
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		if err := q.QueryRow(ctx, insertLineSQL,
			o.ID, l.ProductID, l.CategoryID, l.Name, l.Color, l.Size, l.Quantity, l.UnitPrice,
		).Scan(&l.ID); err != nil {
			return fmt.Errorf("creating line %d of order %d: %w", i, o.ID, err)
		}
	}
	return nil
}

// Get returns a non-archived order with its lines.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns orders matching f, newest first, with lines attached.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listOrdersSQL, f.UserID, string(f.Status), f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus writes the lifecycle fields guarded by the expected status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order, from order.Status) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStatusSQL,
		o.ID, string(from), string(o.Status), string(o.PaymentStatus), o.StatusReason, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrStatusConflict
	}
	return nil
}

// DeleteUnpaid removes a pending unpaid order; its lines go with it through
// ON DELETE CASCADE. An order that has moved on is left alone.
func (r *OrderRepository) DeleteUnpaid(ctx context.Context, id int64) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, deleteUnpaidOrderSQL, id)
	if err != nil {
		return false, fmt.Errorf("deleting unpaid order %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Archive sets deleted_at, hiding the order from Get and List.
func (r *OrderRepository) Archive(ctx context.Context, id int64, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, archiveOrderSQL, id, at)
	if err != nil {
		return fmt.Errorf("archiving order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ListDeliveredBefore returns the oldest delivered orders first.
func (r *OrderRepository) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listDeliveredBeforeSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing delivered orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing delivered orders: %w", err)
	}
	if err := r.attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachLines loads lines for all orders in one query.
func (r *OrderRepository) attachLines(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	for _, l := range lines {
		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		method        int16
		paymentStatus string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.UserID, &o.AddressID, &method, &paymentStatus, &status,
		&o.Subtotal, &o.Total, &o.VoucherCode, &o.VoucherDiscount, &o.Note, &o.StatusReason,
		&o.DeliveredAt, &o.DeletedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, err
}

func scanLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l   order.Line
		qty int32
	)
	err := row.Scan(
		&l.ID, &l.OrderID, &l.ProductID, &l.CategoryID, &l.Name, &l.Color, &l.Size, &qty, &l.UnitPrice,
	)
	l.Quantity = int(qty)
	return l, err
}
