// Package notify defines order notification events.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names a notification event.
type Kind string

// KindOrderSucceeded is emitted once an order is committed with stock taken.
const KindOrderSucceeded Kind = "order.success"

// Event is a notification about an order.
type Event struct {
	Kind          Kind
	OrderID       int64
	OrderCode     string
	UserID        int64
	Total         decimal.Decimal
	PaymentMethod int
	At            time.Time
}

// Dispatcher delivers events. Delivery is best-effort: callers log failures
// and never roll back committed work because of them.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}
