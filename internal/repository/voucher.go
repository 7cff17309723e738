package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/vnshop-orders/internal/domain/voucher"
)

const (
	getVoucherByCodeSQL = `SELECT id, code, kind, value, min_order_value, max_discount,
		starts_at, ends_at, usage_limit, used_count, active, scope, applicable_ids, description
		FROM vouchers WHERE UPPER(code) = UPPER($1)`

	consumeVoucherSQL = `UPDATE vouchers SET used_count = used_count + 1
		WHERE id = $1 AND used_count < usage_limit`

	upsertVoucherSQL = `INSERT INTO vouchers
		(code, kind, value, min_order_value, max_discount, starts_at, ends_at,
		 usage_limit, active, scope, applicable_ids, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (UPPER(code)) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			min_order_value = EXCLUDED.min_order_value,
			max_discount = EXCLUDED.max_discount,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			usage_limit = GREATEST(EXCLUDED.usage_limit, vouchers.used_count),
			active = EXCLUDED.active,
			scope = EXCLUDED.scope,
			applicable_ids = EXCLUDED.applicable_ids,
			description = EXCLUDED.description
		RETURNING id`
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

// FindByCode looks up a voucher by its code (case-insensitive). Inactive
// vouchers are returned too so the evaluator can report them as such.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVoucherByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}
	return &v, nil
}

// ConsumeUsage takes one usage slot with a guarded increment. Losing the
// race for the last slot yields voucher.ErrUsageExhausted.
func (r *VoucherRepository) ConsumeUsage(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, consumeVoucherSQL, id)
	if err != nil {
		return fmt.Errorf("consuming usage of voucher %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrUsageExhausted
	}
	return nil
}

// Upsert inserts or updates a voucher keyed by its case-folded code and
// fills in its ID. The usage counter is preserved on update.
func (r *VoucherRepository) Upsert(ctx context.Context, v *voucher.Voucher) error {
	ids := v.ApplicableIDs
	if ids == nil {
		ids = []int64{}
	}
	scope := v.Scope
	if scope == "" {
		scope = voucher.ScopeAll
	}
	err := conn(ctx, r.pool).QueryRow(ctx, upsertVoucherSQL,
		v.Code, string(v.Kind), v.Value, v.MinOrderValue, v.MaxDiscount, v.StartsAt, v.EndsAt,
		v.UsageLimit, v.Active, string(scope), ids, v.Description,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("upserting voucher %q: %w", v.Code, err)
	}
	return nil
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v          voucher.Voucher
		kind       string
		scope      string
		startsAt   *time.Time
		endsAt     *time.Time
		usageLimit int32
		usedCount  int32
	)
	err := row.Scan(
		&v.ID, &v.Code, &kind, &v.Value, &v.MinOrderValue, &v.MaxDiscount,
		&startsAt, &endsAt, &usageLimit, &usedCount, &v.Active, &scope, &v.ApplicableIDs, &v.Description,
	)
	v.Kind = voucher.Kind(kind)
	v.Scope = voucher.Scope(scope)
	v.StartsAt = startsAt
	v.EndsAt = endsAt
	v.UsageLimit = int(usageLimit)
	v.UsedCount = int(usedCount)
	return v, err
}
