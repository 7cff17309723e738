// Package voucher validates voucher codes and computes cart discounts.
package voucher

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Evaluator checks voucher eligibility against a Repository.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Quote computes the discount for code without consuming a usage slot.
func (e *Evaluator) Quote(ctx context.Context, code string, items []Item) (*Discount, error) {
	_, d, err := e.evaluate(ctx, code, items)
	return d, err
}

// Redeem computes the discount and atomically consumes one usage slot. It
// must run inside the checkout transaction so a later failure gives the
// slot back through rollback.
func (e *Evaluator) Redeem(ctx context.Context, code string, items []Item) (*Discount, error) {
	v, d, err := e.evaluate(ctx, code, items)
	if err != nil {
		return nil, err
	}
	if err := e.repo.ConsumeUsage(ctx, v.ID); err != nil {
		if errors.Is(err, ErrUsageExhausted) {
			return nil, ErrUsageExhausted
		}
		return nil, errors.Wrap(err, "consume voucher usage")
	}
	return d, nil
}

func (e *Evaluator) evaluate(ctx context.Context, code string, items []Item) (*Voucher, *Discount, error) {
	v, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, errors.Wrap(err, "lookup voucher")
	}

	if !v.Active {
		return nil, nil, ErrInactive
	}

	now := e.now()
	if v.StartsAt != nil && now.Before(*v.StartsAt) {
		return nil, nil, ErrExpired
	}
	if v.EndsAt != nil && now.After(*v.EndsAt) {
		return nil, nil, ErrExpired
	}

	if v.UsedCount >= v.UsageLimit {
		return nil, nil, ErrUsageExhausted
	}

	d, err := Apply(v, items)
	if err != nil {
		return nil, nil, err
	}
	return v, &d, nil
}
