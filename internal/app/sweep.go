package app

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// staleCompleter is the part of *order.Service the sweeper drives.
type staleCompleter interface {
	CompleteStaleDeliveries(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Sweeper periodically completes orders that stayed delivered for longer
// than After.
type Sweeper struct {
	Orders   staleCompleter
	Interval time.Duration
	After    time.Duration
	Batch    int

	now func() time.Time
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// sweep drains every eligible order in batches. Errors are logged; the next
// tick retries.
func (s *Sweeper) sweep(ctx context.Context) int {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-s.After)
	lg := zctx.From(ctx).With(zap.Time("cutoff", cutoff))

	total := 0
	for ctx.Err() == nil {
		n, err := s.Orders.CompleteStaleDeliveries(ctx, cutoff, s.Batch)
		total += n
		if err != nil {
			lg.Error("Sweep failed", zap.Error(err), zap.Int("completed", total))
			return total
		}
		if n < s.Batch {
			break
		}
	}
	if total > 0 {
		lg.Info("Sweep completed orders", zap.Int("completed", total))
	}
	return total
}
