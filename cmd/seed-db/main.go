package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/db"
	"github.com/xenking/vnshop-orders/internal/repository"
)

func main() {
	_ = godotenv.Load()

	var (
		databaseURL  string
		catalogFile  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to a catalog JSON file (defaults to the embedded demo catalog)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}
	if apiKeyPepper == "" {
		lg.Fatal("API key pepper is required: set --api-key-pepper or SHOP_API_KEY_PEPPER")
	}

	data := db.SeedCatalog
	if catalogFile != "" {
		if data, err = os.ReadFile(catalogFile); err != nil {
			lg.Fatal("Read catalog file", zap.String("path", catalogFile), zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, data, []byte(apiKeyPepper)); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, data, pepper []byte) error {
	c, err := parseCatalog(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	s := &seeder{
		lg:       lg,
		catalog:  repository.NewCatalogRepository(pool),
		vouchers: repository.NewVoucherRepository(pool),
		keys:     repository.NewAPIKeyRepository(pool),
		pepper:   pepper,
	}
	// Every step is idempotent, so a failed run can simply be repeated.
	return s.seed(ctx, c)
}
