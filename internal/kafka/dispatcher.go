// Package kafka publishes order notifications to Kafka.
package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/notify"
)

// DefaultTopic carries order.success events.
const DefaultTopic = "order.success"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ notify.Dispatcher = (*Dispatcher)(nil)

// Dispatcher implements notify.Dispatcher on an async kafka.Writer. Events
// are keyed by order ID so every event of one order lands on one partition.
type Dispatcher struct {
	w messageWriter
}

// NewDispatcher returns a Dispatcher writing to topic on brokers. Delivery
// failures surface in the writer completion callback and are logged to lg.
func NewDispatcher(brokers []string, topic string, lg *zap.Logger) *Dispatcher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range msgs {
				lg.Warn("Notification delivery failed",
					zap.String("topic", topic),
					zap.ByteString("key", m.Key),
					zap.Error(err),
				)
			}
		},
	}
	return &Dispatcher{w: w}
}

// Dispatch enqueues the event. With Async set the writer never blocks on
// the broker.
func (d *Dispatcher) Dispatch(ctx context.Context, e notify.Event) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.OrderID, 10)),
		Value: EncodeEvent(e),
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := d.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for order %d", e.Kind, e.OrderID)
	}
	return nil
}

// Close flushes pending messages.
func (d *Dispatcher) Close() error {
	return d.w.Close()
}

// LogDispatcher logs events instead of publishing them. It backs
// deployments without brokers.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(ctx context.Context, e notify.Event) error {
	zctx.From(ctx).Info("Order notification",
		zap.String("kind", string(e.Kind)),
		zap.Int64("order_id", e.OrderID),
		zap.String("order_code", e.OrderCode),
		zap.Int64("user_id", e.UserID),
		zap.String("total", e.Total.String()),
	)
	return nil
}
