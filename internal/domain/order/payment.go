package order

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/payment"
)

// PaymentResult is the outcome of a gateway return.
type PaymentResult struct {
	OrderID      int64
	ResponseCode string
	Success      bool
	// Replayed is set when the transaction had already been resolved and
	// this call changed nothing.
	Replayed bool
}

// HandlePaymentReturn reconciles a gateway callback with its order. On
// success the order moves to processing and takes stock; on failure a still
// pending unpaid order is deleted and the transaction row is kept for audit.
// Repeated callbacks replay the first result.
func (s *Service) HandlePaymentReturn(ctx context.Context, values url.Values) (_ *PaymentResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.HandlePaymentReturn")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	cb, err := s.payments.Verify(ctx, values)
	if err != nil {
		return nil, err
	}
	orderID := cb.OrderID()
	lg := zctx.From(ctx).With(
		zap.Int64("order_id", orderID),
		zap.String("response_code", cb.Return.ResponseCode),
	)
	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("response_code", cb.Return.ResponseCode),
	)

	if cb.Transaction.Resolved() {
		return s.replay(ctx, cb.Transaction), nil
	}

	var (
		replayed bool
		removed  bool
		paid     *Order
	)
	if err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		won, err := s.payments.Resolve(ctx, cb)
		if err != nil {
			return err
		}
		if !won {
			replayed = true
			return nil
		}

		if !cb.Succeeded() {
			removed, err = s.orders.DeleteUnpaid(ctx, orderID)
			if err != nil {
				return errors.Wrap(err, "delete unpaid order")
			}
			return nil
		}

		o, err := s.markPaid(ctx, orderID)
		if err != nil {
			return err
		}
		paid = o
		return nil
	}); err != nil {
		return nil, err
	}

	if replayed {
		txn, err := s.payments.Lookup(ctx, cb.Transaction.TxnRef)
		if err != nil {
			return nil, err
		}
		return s.replay(ctx, txn), nil
	}

	s.metrics.callbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", cb.Succeeded()),
	))
	if paid != nil {
		lg.Info("Payment confirmed")
		s.notifySuccess(ctx, paid)
	} else if cb.Succeeded() {
		lg.Warn("Payment settled for an order that is no longer pending")
	} else if removed {
		lg.Info("Payment failed, order removed")
	} else {
		lg.Warn("Payment failed for an order that is no longer pending")
	}

	return &PaymentResult{
		OrderID:      orderID,
		ResponseCode: cb.Return.ResponseCode,
		Success:      cb.Succeeded(),
	}, nil
}

// markPaid moves a pending gateway order to processing and takes its stock.
// It returns nil without error when the order has left pending in the
// meantime, leaving only the transaction resolution to commit.
func (s *Service) markPaid(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get order")
	}
	if o.Status != StatusPending {
		return nil, nil
	}

	next, err := o.Transition(TransitionRequest{
		To:    StatusProcessing,
		Actor: SystemActor,
		At:    s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.orders.UpdateStatus(ctx, &next, o.Status); err != nil {
		return nil, errors.Wrap(err, "mark paid")
	}
	if err := s.commitStock(ctx, &next); err != nil {
		return nil, err
	}
	s.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(o.Status)),
		attribute.String("to", string(next.Status)),
	))
	return &next, nil
}

func (s *Service) replay(ctx context.Context, txn *payment.Transaction) *PaymentResult {
	code := ""
	if txn.ResponseCode != nil {
		code = *txn.ResponseCode
	}
	zctx.From(ctx).Debug("Payment callback replayed",
		zap.Int64("order_id", txn.OrderID),
		zap.String("response_code", code),
	)
	return &PaymentResult{
		OrderID:      txn.OrderID,
		ResponseCode: code,
		Success:      code == payment.ResponseSuccess,
		Replayed:     true,
	}
}
