package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CompleteStaleDeliveries moves up to limit orders delivered before cutoff
// to completed on behalf of the system actor. Orders that change status
// concurrently are skipped. It returns how many orders were completed.
func (s *Service) CompleteStaleDeliveries(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	ctx, span := s.tracer.Start(ctx, "order.CompleteStaleDeliveries")
	defer span.End()

	stale, err := s.orders.ListDeliveredBefore(ctx, cutoff, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list delivered orders")
	}

	lg := zctx.From(ctx)
	completed := 0
	for i := range stale {
		o := &stale[i]
		next, err := o.Transition(TransitionRequest{
			To:    StatusCompleted,
			Actor: SystemActor,
			At:    s.now(),
		})
		if err != nil {
			lg.Warn("Skipping order in sweep", zap.Int64("order_id", o.ID), zap.Error(err))
			continue
		}
		if err := s.orders.UpdateStatus(ctx, &next, o.Status); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				lg.Debug("Order moved during sweep", zap.Int64("order_id", o.ID))
				continue
			}
			return completed, errors.Wrapf(err, "complete order %d", o.ID)
		}
		completed++
	}

	if completed > 0 {
		s.metrics.swept.Add(ctx, int64(completed))
		lg.Info("Completed stale deliveries", zap.Int("count", completed))
	}
	return completed, nil
}
