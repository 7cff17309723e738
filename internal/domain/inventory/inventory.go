// Package inventory defines the per-variant stock ledger contract.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrInsufficientStock is returned when a variant has fewer units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrVariantNotFound is returned when no stock record exists for a variant.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrInvalidQuantity is returned for non-positive decrement or release amounts.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// VariantKey identifies a sellable (product, color, size) combination.
type VariantKey struct {
	ProductID int64
	Color     string
	Size      string
}

func (k VariantKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ProductID, k.Color, k.Size)
}

// InsufficientStockError reports which variant could not cover a decrement.
type InsufficientStockError struct {
	Key       VariantKey
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s (requested %d)", e.Key, e.Requested)
}

// Is makes errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Ledger mutates variant stock. Implementations must run on the transaction
// carried by ctx, if any, and must never let a quantity go negative.
type Ledger interface {
	// Decrement removes qty units, failing with *InsufficientStockError
	// when fewer than qty units remain.
	Decrement(ctx context.Context, key VariantKey, qty int) error
	// Release returns qty units to stock.
	Release(ctx context.Context, key VariantKey, qty int) error
}
