package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/vnshop-orders/internal/domain/voucher"
)

const (
	maxFiles      = 64
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	numColumns    = 9
)

type voucherStore interface {
	Upsert(ctx context.Context, v *voucher.Voucher) error
}

type importStats struct {
	Upserted   int
	Duplicates int
	Invalid    int
}

// importer runs three streaming passes over the input files: build one
// bloom filter per file, confirm codes that hit another file's filter, then
// upsert every row whose code is not shared. Only bloom hits are held in
// memory, so batches far larger than RAM still import.
type importer struct {
	lg      *zap.Logger
	store   voucherStore // nil for dry runs
	workers int
}

func (imp *importer) Import(ctx context.Context, files []string) (importStats, error) {
	imp.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := imp.buildFilters(ctx, files)
	if err != nil {
		return importStats{}, errors.Wrap(err, "build bloom filters")
	}

	imp.lg.Info("Pass 2: confirming shared codes")
	dups, err := imp.sharedCodes(ctx, files, filters)
	if err != nil {
		return importStats{}, errors.Wrap(err, "find shared codes")
	}
	for code := range dups {
		imp.lg.Warn("Skipping code present in several files", zap.String("code", code))
	}

	imp.lg.Info("Pass 3: writing vouchers")
	return imp.write(ctx, files, dups)
}

func (imp *importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			n := 0
			err := streamCodes(ctx, path, func(code string) {
				f.AddString(code)
				n++
			})
			if err != nil {
				return err
			}
			imp.lg.Debug("Filter built", zap.String("file", path), zap.Int("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// sharedCodes returns the codes that occur in two or more files. Bloom hits
// are only candidates; the per-file bitmask confirms them exactly.
func (imp *importer) sharedCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	masks := make([]map[string]uint64, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			bit := uint64(1) << uint(i)
			err := streamCodes(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return err
			}
			masks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range masks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}
	shared := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			shared[code] = struct{}{}
		}
	}
	return shared, nil
}

func (imp *importer) write(ctx context.Context, files []string, dups map[string]struct{}) (importStats, error) {
	var upserted, skipped, invalid atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(imp.workers, 1) + 1)

	rows := make(chan *voucher.Voucher)
	g.Go(func() error {
		defer close(rows)
		for _, path := range files {
			err := streamRows(ctx, path, func(line int, rec []string) error {
				v, err := parseRow(rec)
				if err != nil {
					invalid.Add(1)
					imp.lg.Warn("Invalid voucher row", zap.String("file", path), zap.Int("line", line), zap.Error(err))
					return nil
				}
				if _, ok := dups[normalizeCode(v.Code)]; ok {
					skipped.Add(1)
					return nil
				}
				select {
				case rows <- v:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	for range max(imp.workers, 1) {
		g.Go(func() error {
			for v := range rows {
				if imp.store != nil {
					if err := imp.store.Upsert(ctx, v); err != nil {
						return errors.Wrapf(err, "upsert %s", v.Code)
					}
				}
				upserted.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return importStats{
		Upserted:   int(upserted.Load()),
		Duplicates: int(skipped.Load()),
		Invalid:    int(invalid.Load()),
	}, err
}

// normalizeCode folds a code the way voucher lookups do.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func parseRow(rec []string) (*voucher.Voucher, error) {
	if len(rec) != numColumns {
		return nil, errors.Errorf("want %d columns, got %d", numColumns, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	v := &voucher.Voucher{
		Code:        rec[0],
		Kind:        voucher.Kind(strings.ToLower(rec[1])),
		Scope:       voucher.Scope(strings.ToLower(rec[6])),
		Description: rec[8],
		Active:      true,
	}
	if v.Code == "" {
		return nil, errors.New("empty code")
	}
	if v.Kind != voucher.KindFixed && v.Kind != voucher.KindPercent {
		return nil, errors.Errorf("unknown kind %q", rec[1])
	}
	switch v.Scope {
	case "":
		v.Scope = voucher.ScopeAll
	case voucher.ScopeAll, voucher.ScopeProducts, voucher.ScopeCategories:
	default:
		return nil, errors.Errorf("unknown scope %q", rec[6])
	}

	var err error
	if v.Value, err = parseAmount(rec[2]); err != nil {
		return nil, errors.Wrap(err, "value")
	}
	if v.Kind == voucher.KindPercent && v.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.Errorf("percent value %s above 100", v.Value)
	}
	if v.MinOrderValue, err = parseAmount(rec[3]); err != nil {
		return nil, errors.Wrap(err, "min_order_value")
	}
	if v.MaxDiscount, err = parseAmount(rec[4]); err != nil {
		return nil, errors.Wrap(err, "max_discount")
	}
	if v.UsageLimit, err = strconv.Atoi(rec[5]); err != nil || v.UsageLimit < 0 {
		return nil, errors.Errorf("usage_limit %q is not a non-negative integer", rec[5])
	}
	if rec[7] != "" {
		for _, s := range strings.Split(rec[7], ";") {
			id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "applicable id %q", s)
			}
			v.ApplicableIDs = append(v.ApplicableIDs, id)
		}
	}
	if v.Scope != voucher.ScopeAll && len(v.ApplicableIDs) == 0 {
		return nil, errors.Errorf("scope %s needs applicable ids", v.Scope)
	}
	return v, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("negative amount %s", s)
	}
	return d, nil
}

// streamCodes calls fn with the normalized code of every data row.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	return streamRows(ctx, path, func(_ int, rec []string) error {
		if len(rec) > 0 {
			if code := normalizeCode(rec[0]); code != "" {
				fn(code)
			}
		}
		return nil
	})
}

// streamRows decompresses path and calls fn for each CSV record after the
// header. Rows with a different column count are passed through so the
// caller can report them.
func streamRows(ctx context.Context, path string, fn func(line int, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrapf(err, "read header of %s", path)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
