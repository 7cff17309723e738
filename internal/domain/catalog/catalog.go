// Package catalog holds the read-side collaborators the order core depends on:
// variant pricing, shopping carts and shipping addresses.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vnshop-orders/internal/domain/inventory"
)

var (
	// ErrNotFound is returned when a requested variant does not exist.
	ErrNotFound = errors.New("variant not found")
	// ErrNoDefaultAddress is returned when a user has no default shipping address.
	ErrNoDefaultAddress = errors.New("no default address")
)

// Variant is a priced, stocked (product, color, size) combination.
type Variant struct {
	Key          inventory.VariantKey
	CategoryID   int64
	Name         string
	PriceRegular decimal.Decimal
	PriceSale    decimal.Decimal
	Stock        int
}

// UnitPrice returns the price a buyer pays right now: the sale price when it
// is set and below the regular price, otherwise the regular price.
func (v Variant) UnitPrice() decimal.Decimal {
	if v.PriceSale.IsPositive() && v.PriceSale.LessThan(v.PriceRegular) {
		return v.PriceSale
	}
	return v.PriceRegular
}

// CartItem is a single cart row.
type CartItem struct {
	Key      inventory.VariantKey
	Quantity int
}

// Address is a user's shipping address.
type Address struct {
	ID        int64
	UserID    int64
	Recipient string
	Phone     string
	Line      string
	IsDefault bool
}

// Repository provides variant lookups.
type Repository interface {
	GetVariant(ctx context.Context, key inventory.VariantKey) (*Variant, error)
}

// Carts reads and clears shopping carts.
type Carts interface {
	Items(ctx context.Context, userID int64) ([]CartItem, error)
	Clear(ctx context.Context, userID int64) error
}

// Addresses resolves shipping addresses.
type Addresses interface {
	// DefaultAddress returns ErrNoDefaultAddress when the user has none.
	DefaultAddress(ctx context.Context, userID int64) (*Address, error)
}
