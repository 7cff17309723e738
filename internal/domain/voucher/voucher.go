package voucher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindFixed subtracts a fixed amount, capped at the applicable subtotal.
	KindFixed Kind = "fixed"
	// KindPercent subtracts a percentage of the applicable subtotal.
	KindPercent Kind = "percent"
)

// Scope restricts which cart lines a voucher counts toward.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeProducts   Scope = "products"
	ScopeCategories Scope = "categories"
)

// Voucher is a redeemable discount code.
type Voucher struct {
	ID            int64
	Code          string
	Kind          Kind
	Value         decimal.Decimal
	MinOrderValue decimal.Decimal
	// MaxDiscount caps percent vouchers. Zero means uncapped.
	MaxDiscount   decimal.Decimal
	StartsAt      *time.Time
	EndsAt        *time.Time
	UsageLimit    int
	UsedCount     int
	Active        bool
	Scope         Scope
	ApplicableIDs []int64
	Description   string
}

// Discount holds the computed discount amount for a cart.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Item represents a cart line for discount calculation purposes.
type Item struct {
	ProductID  int64
	CategoryID int64
	Price      decimal.Decimal
	Quantity   int
}

// Repository provides lookup and usage accounting of vouchers.
type Repository interface {
	// FindByCode performs a case-insensitive lookup and returns ErrNotFound
	// when no voucher matches.
	FindByCode(ctx context.Context, code string) (*Voucher, error)
	// ConsumeUsage atomically increments used_count while it is below
	// usage_limit, returning ErrUsageExhausted when no slot is left.
	ConsumeUsage(ctx context.Context, id int64) error
}
