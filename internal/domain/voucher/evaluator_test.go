package voucher

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockVoucherRepo struct {
	mu         sync.Mutex
	voucher    *Voucher
	err        error
	consumeErr error
	consumed   int
}

func (m *mockVoucherRepo) FindByCode(_ context.Context, code string) (*Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.voucher == nil || !strings.EqualFold(m.voucher.Code, code) {
		return nil, ErrNotFound
	}
	v := *m.voucher
	return &v, nil
}

func (m *mockVoucherRepo) ConsumeUsage(_ context.Context, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumeErr != nil {
		return m.consumeErr
	}
	if m.voucher.UsedCount >= m.voucher.UsageLimit {
		return ErrUsageExhausted
	}
	m.voucher.UsedCount++
	m.consumed++
	return nil
}

func vnd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestEvaluator_Quote(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	base := func(mod func(v *Voucher)) *mockVoucherRepo {
		v := &Voucher{
			ID:         1,
			Code:       "SALE10",
			Kind:       KindPercent,
			Value:      vnd(10),
			UsageLimit: 100,
			Active:     true,
			Scope:      ScopeAll,
		}
		if mod != nil {
			mod(v)
		}
		return &mockVoucherRepo{voucher: v}
	}
	cart := []Item{
		{ProductID: 1, CategoryID: 10, Price: vnd(200_000), Quantity: 2},
		{ProductID: 2, CategoryID: 20, Price: vnd(100_000), Quantity: 1},
	}

	tests := []struct {
		name       string
		repo       *mockVoucherRepo
		code       string
		items      []Item
		wantAmount decimal.Decimal
		wantErr    error
	}{
		{
			name:       "percent of whole cart",
			repo:       base(nil),
			code:       "SALE10",
			items:      cart,
			wantAmount: vnd(50_000),
		},
		{
			name:       "lookup is case-insensitive",
			repo:       base(nil),
			code:       "sale10",
			items:      cart,
			wantAmount: vnd(50_000),
		},
		{
			name:    "unknown code",
			repo:    base(nil),
			code:    "NOPE",
			items:   cart,
			wantErr: ErrNotFound,
		},
		{
			name:    "inactive",
			repo:    base(func(v *Voucher) { v.Active = false }),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrInactive,
		},
		{
			name:    "not started yet",
			repo:    base(func(v *Voucher) { v.StartsAt = &future }),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrExpired,
		},
		{
			name:    "ended",
			repo:    base(func(v *Voucher) { v.EndsAt = &past }),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrExpired,
		},
		{
			name: "inside window",
			repo: base(func(v *Voucher) {
				v.StartsAt = &past
				v.EndsAt = &future
			}),
			code:       "SALE10",
			items:      cart,
			wantAmount: vnd(50_000),
		},
		{
			name:    "usage exhausted",
			repo:    base(func(v *Voucher) { v.UsedCount = 100 }),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrUsageExhausted,
		},
		{
			name: "inactive is reported before expiry",
			repo: base(func(v *Voucher) {
				v.Active = false
				v.EndsAt = &past
			}),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrInactive,
		},
		{
			name: "product scope with no matching line",
			repo: base(func(v *Voucher) {
				v.Scope = ScopeProducts
				v.ApplicableIDs = []int64{99}
			}),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrNotApplicable,
		},
		{
			name: "category scope counts only matching lines",
			repo: base(func(v *Voucher) {
				v.Scope = ScopeCategories
				v.ApplicableIDs = []int64{20}
			}),
			code:       "SALE10",
			items:      cart,
			wantAmount: vnd(10_000),
		},
		{
			name: "below minimum on applicable subtotal",
			repo: base(func(v *Voucher) {
				v.Scope = ScopeProducts
				v.ApplicableIDs = []int64{2}
				v.MinOrderValue = vnd(150_000)
			}),
			code:    "SALE10",
			items:   cart,
			wantErr: ErrBelowMinimum,
		},
		{
			name:    "empty cart is not applicable",
			repo:    base(nil),
			code:    "SALE10",
			items:   nil,
			wantErr: ErrNotApplicable,
		},
		{
			name:       "percent capped by max discount",
			repo:       base(func(v *Voucher) { v.MaxDiscount = vnd(30_000) }),
			code:       "SALE10",
			items:      cart,
			wantAmount: vnd(30_000),
		},
		{
			name: "fixed capped at applicable subtotal",
			repo: base(func(v *Voucher) {
				v.Kind = KindFixed
				v.Value = vnd(1_000_000)
			}),
			code:       "SALE10",
			items:      cart,
			wantAmount: vnd(500_000),
		},
		{
			name: "percent rounds half-up to whole units",
			repo: base(func(v *Voucher) { v.Value = decimal.RequireFromString("12.5") }),
			code: "SALE10",
			items: []Item{
				{ProductID: 1, Price: vnd(101), Quantity: 1},
			},
			// 12.625 -> 13
			wantAmount: vnd(13),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(tt.repo)
			e.now = func() time.Time { return fixedNow }

			got, err := e.Quote(context.Background(), tt.code, tt.items)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, tt.wantAmount.Equal(got.Amount),
				"expected amount %s, got %s", tt.wantAmount, got.Amount)
			assert.Zero(t, tt.repo.consumed, "quote must not consume usage")
		})
	}
}

func TestEvaluator_RedeemConsumesUsage(t *testing.T) {
	repo := &mockVoucherRepo{voucher: &Voucher{
		ID: 7, Code: "FIX", Kind: KindFixed, Value: vnd(20_000), UsageLimit: 5, Active: true,
	}}
	e := NewEvaluator(repo)

	d, err := e.Redeem(context.Background(), "FIX", []Item{{ProductID: 1, Price: vnd(50_000), Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, vnd(20_000).Equal(d.Amount))
	assert.Equal(t, 1, repo.consumed)
	assert.Equal(t, 1, repo.voucher.UsedCount)
}

func TestEvaluator_RedeemConsumeError(t *testing.T) {
	repo := &mockVoucherRepo{
		voucher:    &Voucher{ID: 7, Code: "FIX", Kind: KindFixed, Value: vnd(1), UsageLimit: 5, Active: true},
		consumeErr: errors.New("db error"),
	}
	e := NewEvaluator(repo)

	_, err := e.Redeem(context.Background(), "FIX", []Item{{ProductID: 1, Price: vnd(10), Quantity: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "consume voucher usage")
}

func TestEvaluator_RedeemRaceRespectsLimit(t *testing.T) {
	const (
		limit   = 3
		callers = 20
	)
	repo := &mockVoucherRepo{voucher: &Voucher{
		ID: 1, Code: "RACE", Kind: KindFixed, Value: vnd(1_000), UsageLimit: limit, Active: true,
	}}
	e := NewEvaluator(repo)
	items := []Item{{ProductID: 1, Price: vnd(10_000), Quantity: 1}}

	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		exhausted atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Redeem(context.Background(), "RACE", items)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrUsageExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, limit, ok.Load())
	assert.EqualValues(t, callers-limit, exhausted.Load())
	assert.Equal(t, limit, repo.voucher.UsedCount)
}

func TestError_Reason(t *testing.T) {
	var verr *Error
	err := errors.Wrap(ErrBelowMinimum, "place order")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, ReasonBelowMinimum, verr.Reason)
	assert.False(t, errors.Is(err, ErrExpired))
}
