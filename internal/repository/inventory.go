package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vnshop-orders/internal/domain/inventory"
)

const (
	decrementStockSQL = `UPDATE product_variants SET quantity = quantity - $4
		WHERE product_id = $1 AND color = $2 AND size = $3 AND quantity >= $4`

	releaseStockSQL = `UPDATE product_variants SET quantity = quantity + $4
		WHERE product_id = $1 AND color = $2 AND size = $3`

	variantExistsSQL = `SELECT EXISTS (SELECT 1 FROM product_variants
		WHERE product_id = $1 AND color = $2 AND size = $3)`
)

var _ inventory.Ledger = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Ledger with conditional updates
// on product_variants.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

// NewInventoryRepository returns an InventoryRepository that uses the given pool.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

// Decrement removes qty units in a single guarded UPDATE, so concurrent
// buyers can never drive the quantity below zero.
func (r *InventoryRepository) Decrement(ctx context.Context, key inventory.VariantKey, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, decrementStockSQL, key.ProductID, key.Color, key.Size, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %s: %w", key, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, variantExistsSQL, key.ProductID, key.Color, key.Size).Scan(&exists); err != nil {
		return fmt.Errorf("checking variant %s: %w", key, err)
	}
	if !exists {
		return inventory.ErrVariantNotFound
	}
	return &inventory.InsufficientStockError{Key: key, Requested: qty}
}

// Release returns qty units to stock.
func (r *InventoryRepository) Release(ctx context.Context, key inventory.VariantKey, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	tag, err := conn(ctx, r.pool).Exec(ctx, releaseStockSQL, key.ProductID, key.Color, key.Size, qty)
	if err != nil {
		return fmt.Errorf("releasing stock for %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrVariantNotFound
	}
	return nil
}
