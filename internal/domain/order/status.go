package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// UpdateStatusRequest asks for a single lifecycle step.
type UpdateStatusRequest struct {
	OrderID int64
	Actor   Actor
	To      Status
	Reason  string
}

// UpdateStatus applies one transition. Entering cancelled or
// returned_refunded gives stock back when the order had taken it.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus")
	defer span.End()

	if !req.To.Valid() {
		return nil, errors.Wrapf(ErrInvalidTransition, "unknown status %q", req.To)
	}

	var (
		from Status
		next Order
	)
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.visibleOrder(ctx, req.Actor, req.OrderID)
		if err != nil {
			return err
		}
		from = o.Status

		next, err = o.Transition(TransitionRequest{
			To:     req.To,
			Actor:  req.Actor,
			Reason: req.Reason,
			At:     s.now(),
		})
		if err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, &next, from); err != nil {
			return errors.Wrap(err, "update status")
		}
		if ReleasesStock(next.Status) && o.StockCommitted() {
			return s.releaseStock(ctx, o)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(next.Status)),
	))
	zctx.From(ctx).Info("Order status changed",
		zap.Int64("order_id", next.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next.Status)),
		zap.String("actor", string(req.Actor.Role)),
	)
	return &next, nil
}

// Cancel is the customer-facing cancellation.
func (s *Service) Cancel(ctx context.Context, actor Actor, orderID int64, reason string) (*Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusRequest{
		OrderID: orderID,
		Actor:   actor,
		To:      StatusCancelled,
		Reason:  reason,
	})
}

// ConfirmReceived records that the customer got the parcel.
func (s *Service) ConfirmReceived(ctx context.Context, actor Actor, orderID int64) (*Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusRequest{
		OrderID: orderID,
		Actor:   actor,
		To:      StatusReceived,
	})
}

// Complete closes a received order on the customer's word.
func (s *Service) Complete(ctx context.Context, actor Actor, orderID int64) (*Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusRequest{
		OrderID: orderID,
		Actor:   actor,
		To:      StatusCompleted,
	})
}

// Archive soft-deletes a terminal order. Only admins may archive.
func (s *Service) Archive(ctx context.Context, actor Actor, orderID int64) error {
	if actor.Role != RoleAdmin {
		return ErrActorNotAllowed
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.Status.Terminal() {
		return errors.Wrapf(ErrNotTerminal, "status %s", o.Status)
	}
	if err := s.orders.Archive(ctx, orderID, s.now()); err != nil {
		return errors.Wrap(err, "archive order")
	}
	zctx.From(ctx).Info("Order archived", zap.Int64("order_id", orderID))
	return nil
}

// Get returns an order the actor may see.
func (s *Service) Get(ctx context.Context, actor Actor, orderID int64) (*Order, error) {
	return s.visibleOrder(ctx, actor, orderID)
}

// List returns orders visible to the actor. Customers only see their own.
func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]Order, error) {
	switch actor.Role {
	case RoleCustomer:
		if actor.UserID == 0 {
			return nil, ErrUnauthenticatedActor
		}
		f.UserID = actor.UserID
	case RoleStaff, RoleAdmin:
	default:
		return nil, ErrActorNotAllowed
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// visibleOrder loads an order, hiding other customers' orders as not found.
func (s *Service) visibleOrder(ctx context.Context, actor Actor, orderID int64) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleCustomer && !o.OwnedBy(actor.UserID) {
		return nil, ErrNotFound
	}
	return o, nil
}
