// Command voucher-import loads partner voucher batches into the vouchers
// table.
//
// Each input is a gzip-compressed CSV file with the columns
//
//	code,kind,value,min_order_value,max_discount,usage_limit,scope,applicable_ids,description
//
// where applicable_ids is a ';' separated list. A code that shows up in more
// than one file is ambiguous and is skipped with a warning; all other rows
// are upserted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/repository"
)

func main() {
	_ = godotenv.Load()

	var (
		databaseURL string
		workers     int
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 4, "concurrent upserts")
	flag.BoolVar(&dryRun, "dry-run", false, "validate files and report duplicates without writing")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	files := flag.Args()
	if len(files) == 0 {
		lg.Fatal("Usage: voucher-import [flags] batch1.csv.gz [batch2.csv.gz ...]")
	}
	if len(files) > maxFiles {
		lg.Fatal("Too many input files", zap.Int("max", maxFiles))
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, files, workers, dryRun); err != nil {
		lg.Fatal("Voucher import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, workers int, dryRun bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	imp := &importer{lg: lg, workers: workers}
	if !dryRun {
		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		imp.store = repository.NewVoucherRepository(pool)
	}

	stats, err := imp.Import(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Voucher import completed",
		zap.Int("upserted", stats.Upserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
		zap.Bool("dry_run", dryRun),
	)
	return nil
}
