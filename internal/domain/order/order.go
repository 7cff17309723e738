package order

import (
	"context"
	"encoding/base32"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/vnshop-orders/internal/domain/inventory"
)

// Status is an order lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusShipping         Status = "shipping"
	StatusDelivered        Status = "delivered"
	StatusReceived         Status = "received"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusFailed           Status = "failed"
	StatusRescheduled      Status = "rescheduled"
	StatusReturnedRefunded Status = "returned_refunded"
)

// AllStatuses lists every lifecycle state.
var AllStatuses = []Status{
	StatusPending, StatusProcessing, StatusShipping, StatusDelivered, StatusReceived,
	StatusCompleted, StatusCancelled, StatusFailed, StatusRescheduled, StatusReturnedRefunded,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusReturnedRefunded
}

// PaymentMethod selects how an order is paid.
type PaymentMethod int

const (
	PaymentCash    PaymentMethod = 0
	PaymentGateway PaymentMethod = 1
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentGateway
}

// PaymentStatus tracks settlement of an order.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

// Order is a customer order with its frozen lines.
type Order struct {
	ID              int64
	Code            string
	UserID          int64
	AddressID       int64
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          Status
	Subtotal        decimal.Decimal
	Total           decimal.Decimal
	VoucherCode     string
	VoucherDiscount decimal.Decimal
	Note            string
	StatusReason    string
	DeliveredAt     *time.Time
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Lines           []Line
}

// Line is an order line with its unit price frozen at checkout.
type Line struct {
	ID         int64
	OrderID    int64
	ProductID  int64
	CategoryID int64
	Name       string
	Color      string
	Size       string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Key returns the inventory variant the line draws from.
func (l Line) Key() inventory.VariantKey {
	return inventory.VariantKey{ProductID: l.ProductID, Color: l.Color, Size: l.Size}
}

// Amount returns unit price times quantity.
func (l Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinesSubtotal sums line amounts.
func LinesSubtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

// StockCommitted reports whether inventory has been taken for the order.
// Cash orders take stock at checkout, gateway orders once paid.
func (o *Order) StockCommitted() bool {
	return o.PaymentMethod == PaymentCash || o.PaymentStatus == PaymentPaid
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID == userID
}

var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// NewCode returns a human-facing order code: "DH" followed by 16 Crockford
// base32 characters taken from 80 random bits.
func NewCode() string {
	id := uuid.New()
	return "DH" + crockford.EncodeToString(id[:10])
}

// ListFilter narrows List results.
type ListFilter struct {
	// UserID restricts to one customer when non-zero.
	UserID int64
	Status Status
	Limit  int
	Offset int
}

// Repository defines persistence operations for orders. Implementations run
// on the transaction carried by ctx when there is one.
type Repository interface {
	// Create inserts the order and its lines, filling in generated IDs and timestamps.
	Create(ctx context.Context, o *Order) error
	// Get returns a non-archived order with lines, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// UpdateStatus persists the lifecycle fields of o only while the stored
	// status still equals from, returning ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, o *Order, from Status) error
	// DeleteUnpaid removes the order and its lines only while it is still
	// pending and unpaid, and reports whether a row was removed.
	DeleteUnpaid(ctx context.Context, id int64) (bool, error)
	// Archive soft-deletes the order.
	Archive(ctx context.Context, id int64, at time.Time) error
	// ListDeliveredBefore returns delivered orders whose delivered_at is older than cutoff.
	ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}

// Transactor runs fn in a database transaction carried by the context passed
// to fn. The transaction commits only when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
