// Package order implements the order lifecycle: checkout, payment
// reconciliation, status transitions and the delivered-order sweep.
package order

import (
	"context"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/catalog"
	"github.com/xenking/vnshop-orders/internal/domain/inventory"
	"github.com/xenking/vnshop-orders/internal/domain/notify"
	"github.com/xenking/vnshop-orders/internal/domain/payment"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
)

// Sentinel errors for checkout and order access.
var (
	ErrNotFound             = errors.New("order not found")
	ErrStatusConflict       = errors.New("order status changed concurrently")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrNoDefaultAddress     = errors.New("no default shipping address")
	ErrInvalidQuantity      = errors.New("quantity must be greater than 0")
	ErrProductUnavailable   = errors.New("product variant unavailable")
	ErrDuplicateSubmission  = errors.New("duplicate checkout submission")
	ErrZeroGatewayAmount    = errors.New("gateway payment requires a positive total")
	ErrPaymentUnavailable   = errors.New("payment gateway unavailable")
	ErrNotTerminal          = errors.New("order is not in a terminal state")
	ErrUnauthenticatedActor = errors.New("actor has no user")
)

// Vouchers quotes and redeems voucher codes.
type Vouchers interface {
	Quote(ctx context.Context, code string, items []voucher.Item) (*voucher.Discount, error)
	Redeem(ctx context.Context, code string, items []voucher.Item) (*voucher.Discount, error)
}

// Payments is the gateway adapter as seen by the orchestrator.
type Payments interface {
	Begin(ctx context.Context, co payment.Checkout) (string, error)
	Verify(ctx context.Context, values url.Values) (*payment.Callback, error)
	Lookup(ctx context.Context, txnRef string) (*payment.Transaction, error)
	Resolve(ctx context.Context, cb *payment.Callback) (bool, error)
}

// SubmissionGuard rejects repeated checkout submissions.
type SubmissionGuard interface {
	// Acquire returns false when key was already claimed for userID.
	Acquire(ctx context.Context, userID int64, key string) (bool, error)
	// Release frees a claimed key so a failed checkout can be retried.
	Release(ctx context.Context, userID int64, key string) error
}

// Deps wires the Service collaborators. Guard, MeterProvider and
// TracerProvider are optional.
type Deps struct {
	Orders    Repository
	Tx        Transactor
	Catalog   catalog.Repository
	Carts     catalog.Carts
	Addresses catalog.Addresses
	Inventory inventory.Ledger
	Vouchers  Vouchers
	Payments  Payments
	Notifier  notify.Dispatcher
	Guard     SubmissionGuard

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service encapsulates order lifecycle business logic.
type Service struct {
	orders    Repository
	tx        Transactor
	catalog   catalog.Repository
	carts     catalog.Carts
	addresses catalog.Addresses
	inventory inventory.Ledger
	vouchers  Vouchers
	payments  Payments
	notifier  notify.Dispatcher
	guard     SubmissionGuard

	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates an order Service.
func NewService(d Deps) (*Service, error) {
	m, err := newMetrics(d.MeterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return &Service{
		orders:    d.Orders,
		tx:        d.Tx,
		catalog:   d.Catalog,
		carts:     d.Carts,
		addresses: d.Addresses,
		inventory: d.Inventory,
		vouchers:  d.Vouchers,
		payments:  d.Payments,
		notifier:  d.Notifier,
		guard:     d.Guard,
		metrics:   m,
		tracer:    newTracer(d.TracerProvider),
		now:       time.Now,
	}, nil
}

// PlaceOrderRequest holds the input for checking out the actor's cart.
type PlaceOrderRequest struct {
	Actor          Actor
	PaymentMethod  PaymentMethod
	VoucherCode    string
	Note           string
	ClientIP       string
	BankCode       string
	IdempotencyKey string
}

// PlaceOrderResult holds the output of a successful checkout. PaymentURL is
// set for gateway orders only.
type PlaceOrderResult struct {
	Order      *Order
	PaymentURL string
}

// PlaceOrder turns the actor's cart into an order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.Int64("user_id", req.Actor.UserID)),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if req.Actor.UserID == 0 {
		return nil, ErrUnauthenticatedActor
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	userID := req.Actor.UserID

	if s.guard != nil && req.IdempotencyKey != "" {
		release, err := s.claimSubmission(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		defer func() {
			if rerr != nil {
				release()
			}
		}()
	}

	cart, err := s.carts.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	addr, err := s.addresses.DefaultAddress(ctx, userID)
	if err != nil {
		if errors.Is(err, catalog.ErrNoDefaultAddress) {
			return nil, ErrNoDefaultAddress
		}
		return nil, errors.Wrap(err, "load default address")
	}

	lines, err := s.snapshotLines(ctx, cart)
	if err != nil {
		return nil, err
	}
	subtotal := LinesSubtotal(lines)

	o := &Order{
		Code:            NewCode(),
		UserID:          userID,
		AddressID:       addr.ID,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusPending,
		Subtotal:        subtotal,
		Total:           subtotal,
		VoucherDiscount: decimal.Zero,
		Note:            req.Note,
		Lines:           lines,
	}

	var payURL string
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.VoucherCode != "" {
			d, err := s.vouchers.Redeem(ctx, req.VoucherCode, voucherItems(lines))
			if err != nil {
				return errors.Wrap(err, "redeem voucher")
			}
			discount := decimal.Min(d.Amount.Round(0), subtotal)
			o.VoucherCode = d.Code
			o.VoucherDiscount = discount
			o.Total = subtotal.Sub(discount)
		}
		if o.PaymentMethod == PaymentGateway && !o.Total.IsPositive() {
			return ErrZeroGatewayAmount
		}

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}

		if o.PaymentMethod == PaymentCash {
			return s.commitStock(ctx, o)
		}

		// A failed Begin rolls back the order together with its voucher slot.
		var err error
		payURL, err = s.payments.Begin(ctx, payment.Checkout{
			OrderID:   o.ID,
			Amount:    o.Total,
			OrderInfo: "Thanh toan don hang " + o.Code,
			ClientIP:  req.ClientIP,
			BankCode:  req.BankCode,
		})
		if err != nil {
			return errors.Wrapf(ErrPaymentUnavailable, "begin payment: %v", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.Int64("order_id", o.ID), zap.Int64("user_id", userID))
	s.metrics.placed.Add(ctx, 1, metric.WithAttributes(paymentAttr(o.PaymentMethod)))
	span.SetAttributes(attribute.Int64("order_id", o.ID))

	if o.PaymentMethod == PaymentCash {
		lg.Info("Order placed", zap.String("order_code", o.Code), zap.String("total", o.Total.String()))
		s.notifySuccess(ctx, o)
		return &PlaceOrderResult{Order: o}, nil
	}

	lg.Info("Gateway order placed", zap.String("order_code", o.Code), zap.String("total", o.Total.String()))
	return &PlaceOrderResult{Order: o, PaymentURL: payURL}, nil
}

// claimSubmission acquires the idempotency key and returns a func that frees
// it again. A guard outage lets the checkout through.
func (s *Service) claimSubmission(ctx context.Context, userID int64, key string) (func(), error) {
	ok, err := s.guard.Acquire(ctx, userID, key)
	if err != nil {
		zctx.From(ctx).Warn("Submission guard unavailable", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrDuplicateSubmission
	}
	return func() {
		if err := s.guard.Release(ctx, userID, key); err != nil {
			zctx.From(ctx).Warn("Submission guard release failed", zap.Error(err))
		}
	}, nil
}

// QuoteVoucher previews the discount code would give on the actor's cart.
func (s *Service) QuoteVoucher(ctx context.Context, actor Actor, code string) (*voucher.Discount, error) {
	if actor.UserID == 0 {
		return nil, ErrUnauthenticatedActor
	}
	cart, err := s.carts.Items(ctx, actor.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}
	lines, err := s.snapshotLines(ctx, cart)
	if err != nil {
		return nil, err
	}
	return s.vouchers.Quote(ctx, code, voucherItems(lines))
}

func (s *Service) snapshotLines(ctx context.Context, cart []catalog.CartItem) ([]Line, error) {
	lines := make([]Line, 0, len(cart))
	for _, item := range cart {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "variant %s", item.Key)
		}
		v, err := s.catalog.GetVariant(ctx, item.Key)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, errors.Wrapf(ErrProductUnavailable, "variant %s", item.Key)
			}
			return nil, errors.Wrapf(err, "get variant %s", item.Key)
		}
		lines = append(lines, Line{
			ProductID:  item.Key.ProductID,
			CategoryID: v.CategoryID,
			Name:       v.Name,
			Color:      item.Key.Color,
			Size:       item.Key.Size,
			Quantity:   item.Quantity,
			UnitPrice:  v.UnitPrice().Round(0),
		})
	}
	return lines, nil
}

// commitStock takes inventory for every line and empties the owner's cart.
func (s *Service) commitStock(ctx context.Context, o *Order) error {
	for _, l := range o.Lines {
		if err := s.inventory.Decrement(ctx, l.Key(), l.Quantity); err != nil {
			return errors.Wrap(err, "decrement stock")
		}
	}
	if err := s.carts.Clear(ctx, o.UserID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

func (s *Service) releaseStock(ctx context.Context, o *Order) error {
	for _, l := range o.Lines {
		if err := s.inventory.Release(ctx, l.Key(), l.Quantity); err != nil {
			return errors.Wrap(err, "release stock")
		}
	}
	return nil
}

func (s *Service) notifySuccess(ctx context.Context, o *Order) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Dispatch(ctx, notify.Event{
		Kind:          notify.KindOrderSucceeded,
		OrderID:       o.ID,
		OrderCode:     o.Code,
		UserID:        o.UserID,
		Total:         o.Total,
		PaymentMethod: int(o.PaymentMethod),
		At:            s.now(),
	})
	if err != nil {
		zctx.From(ctx).Warn("Order notification failed",
			zap.Int64("order_id", o.ID),
			zap.Error(err),
		)
	}
}

func voucherItems(lines []Line) []voucher.Item {
	items := make([]voucher.Item, len(lines))
	for i, l := range lines {
		items[i] = voucher.Item{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			Price:      l.UnitPrice,
			Quantity:   l.Quantity,
		}
	}
	return items
}
