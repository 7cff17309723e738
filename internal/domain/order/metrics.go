package order

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/xenking/vnshop-orders/internal/domain/order"

type metrics struct {
	placed      metric.Int64Counter
	callbacks   metric.Int64Counter
	transitions metric.Int64Counter
	swept       metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var (
		m   metrics
		err error
	)
	if m.placed, err = meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Orders committed at checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if m.callbacks, err = meter.Int64Counter("shop.payment.callbacks",
		metric.WithDescription("Payment callbacks processed"),
	); err != nil {
		return nil, errors.Wrap(err, "payment.callbacks")
	}
	if m.transitions, err = meter.Int64Counter("shop.orders.transitions",
		metric.WithDescription("Order status transitions applied"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.transitions")
	}
	if m.swept, err = meter.Int64Counter("shop.orders.swept",
		metric.WithDescription("Delivered orders auto-completed by the sweep"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.swept")
	}
	return &m, nil
}

func paymentAttr(m PaymentMethod) attribute.KeyValue {
	if m == PaymentGateway {
		return attribute.String("payment_method", "gateway")
	}
	return attribute.String("payment_method", "cash")
}

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}
