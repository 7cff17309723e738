package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vnshop-orders/internal/domain/catalog"
	"github.com/xenking/vnshop-orders/internal/domain/inventory"
)

const (
	getVariantSQL = `SELECT product_id, color, size, category_id, name, price_regular, price_sale, quantity
		FROM product_variants WHERE product_id = $1 AND color = $2 AND size = $3`

	upsertVariantSQL = `INSERT INTO product_variants
		(product_id, color, size, category_id, name, price_regular, price_sale, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (product_id, color, size) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			name = EXCLUDED.name,
			price_regular = EXCLUDED.price_regular,
			price_sale = EXCLUDED.price_sale,
			quantity = EXCLUDED.quantity`

	listCartSQL = `SELECT product_id, color, size, quantity
		FROM cart_items WHERE user_id = $1 ORDER BY added_at, product_id`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`

	addCartItemSQL = `INSERT INTO cart_items (user_id, product_id, color, size, quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id, color, size) DO UPDATE SET quantity = EXCLUDED.quantity`

	defaultAddressSQL = `SELECT id, user_id, recipient, phone, line, is_default
		FROM addresses WHERE user_id = $1 AND is_default`

	insertAddressSQL = `INSERT INTO addresses (user_id, recipient, phone, line, is_default)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
)

var (
	_ catalog.Repository = (*CatalogRepository)(nil)
	_ catalog.Carts      = (*CatalogRepository)(nil)
	_ catalog.Addresses  = (*CatalogRepository)(nil)
)

// CatalogRepository serves variant pricing, carts and addresses from PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariant returns a single variant with its current price and stock.
func (r *CatalogRepository) GetVariant(ctx context.Context, key inventory.VariantKey) (*catalog.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVariantSQL, key.ProductID, key.Color, key.Size)
	if err != nil {
		return nil, fmt.Errorf("getting variant %s: %w", key, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting variant %s: %w", key, err)
	}
	return &v, nil
}

// UpsertVariant inserts or replaces a variant.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v catalog.Variant) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertVariantSQL,
		v.Key.ProductID, v.Key.Color, v.Key.Size, v.CategoryID, v.Name,
		v.PriceRegular, v.PriceSale, v.Stock,
	)
	if err != nil {
		return fmt.Errorf("upserting variant %s: %w", v.Key, err)
	}
	return nil
}

// Items returns the user's cart rows in insertion order.
func (r *CatalogRepository) Items(ctx context.Context, userID int64) ([]catalog.CartItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.CartItem, error) {
		var (
			it  catalog.CartItem
			qty int32
		)
		err := row.Scan(&it.Key.ProductID, &it.Key.Color, &it.Key.Size, &qty)
		it.Quantity = int(qty)
		return it, err
	})
}

// AddItem sets the quantity of a variant in the user's cart.
func (r *CatalogRepository) AddItem(ctx context.Context, userID int64, item catalog.CartItem) error {
	_, err := conn(ctx, r.pool).Exec(ctx, addCartItemSQL,
		userID, item.Key.ProductID, item.Key.Color, item.Key.Size, item.Quantity,
	)
	if err != nil {
		return fmt.Errorf("adding %s to cart of user %d: %w", item.Key, userID, err)
	}
	return nil
}

// Clear empties the user's cart.
func (r *CatalogRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of user %d: %w", userID, err)
	}
	return nil
}

// DefaultAddress returns the user's default shipping address.
func (r *CatalogRepository) DefaultAddress(ctx context.Context, userID int64) (*catalog.Address, error) {
	var a catalog.Address
	err := conn(ctx, r.pool).QueryRow(ctx, defaultAddressSQL, userID).Scan(
		&a.ID, &a.UserID, &a.Recipient, &a.Phone, &a.Line, &a.IsDefault,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNoDefaultAddress
		}
		return nil, fmt.Errorf("getting default address of user %d: %w", userID, err)
	}
	return &a, nil
}

// AddAddress stores a new address and fills in its ID.
func (r *CatalogRepository) AddAddress(ctx context.Context, a *catalog.Address) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertAddressSQL,
		a.UserID, a.Recipient, a.Phone, a.Line, a.IsDefault,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("adding address for user %d: %w", a.UserID, err)
	}
	return nil
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var (
		v   catalog.Variant
		qty int32
	)
	err := row.Scan(
		&v.Key.ProductID, &v.Key.Color, &v.Key.Size, &v.CategoryID, &v.Name,
		&v.PriceRegular, &v.PriceSale, &qty,
	)
	v.Stock = int(qty)
	return v, err
}
