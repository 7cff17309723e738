package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/vnshop-orders/internal/domain/auth"
	"github.com/xenking/vnshop-orders/internal/domain/notify"
	"github.com/xenking/vnshop-orders/internal/domain/order"
	"github.com/xenking/vnshop-orders/internal/domain/payment"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
	"github.com/xenking/vnshop-orders/internal/handler"
	"github.com/xenking/vnshop-orders/internal/kafka"
	"github.com/xenking/vnshop-orders/internal/redisx"
	"github.com/xenking/vnshop-orders/internal/repository"
	"github.com/xenking/vnshop-orders/pkg/health"
	"github.com/xenking/vnshop-orders/pkg/httpmiddleware"
)

const serviceName = "shop-orders"

// Run creates all dependencies, starts the HTTP server and background
// workers, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	srv, err := newServer(ctx, lg, cfg, pool, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	defer srv.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Workers stop on workCtx; the server drains separately so in-flight
	// requests still reach postgres.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g, gctx := errgroup.WithContext(workCtx)
	g.Go(func() error {
		return srv.health.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		return srv.limiter.Run(gctx)
	})
	if cfg.Sweep.Interval > 0 {
		sweeper := &Sweeper{
			Orders:   srv.orders,
			Interval: cfg.Sweep.Interval,
			After:    cfg.Sweep.DeliveredAfter,
			Batch:    cfg.Sweep.BatchSize,
		}
		g.Go(func() error {
			return sweeper.Run(zctx.Base(gctx, lg.Named("sweep")))
		})
	}
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-gctx.Done():
			// A worker failed; shut down without the readiness delay.
			return shutdown(lg, server, cfg.Graceful.ShutdownTimeout)
		}
		srv.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		err := shutdown(lg, server, cfg.Graceful.ShutdownTimeout)
		stopWork()
		return err
	})

	srv.health.SetReady(true)
	return g.Wait()
}

func shutdown(lg *zap.Logger, server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	lg.Info("Shutting down server", zap.Duration("timeout", timeout))
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// server is everything Run starts besides the listener itself.
type server struct {
	handler http.Handler
	health  *health.Health
	limiter *httpmiddleware.Limiter
	orders  *order.Service
	closers []func() error
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// newServer wires repositories, domain services and the HTTP stack on top
// of an already migrated pool.
func newServer(
	ctx context.Context,
	lg *zap.Logger,
	cfg *Config,
	pool *pgxpool.Pool,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (_ *server, rerr error) {
	srv := &server{health: health.New()}
	defer func() {
		if rerr != nil {
			srv.close()
		}
	}()

	srv.health.Add(health.Check{
		Name:    "postgres",
		Kind:    health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(pool),
	})
	srv.health.Add(health.Check{
		Name: "goroutines",
		Kind: health.Liveness,
		Func: health.GoroutineCountCheck(10000),
	})

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	// Payment gateway.
	vnpay, err := payment.NewClient(payment.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
		Expire:     cfg.VNPay.Expire,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create vnpay client")
	}

	// Notifications.
	var notifier notify.Dispatcher = kafka.LogDispatcher{}
	if len(cfg.Kafka.Brokers) > 0 {
		d := kafka.NewDispatcher(cfg.Kafka.Brokers, cfg.Kafka.Topic, lg.Named("kafka"))
		srv.closers = append(srv.closers, d.Close)
		notifier = d
		lg.Info("Publishing order notifications",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	deps := order.Deps{
		Orders:         orderRepo,
		Tx:             repository.NewTransactor(pool),
		Catalog:        catalogRepo,
		Carts:          catalogRepo,
		Addresses:      catalogRepo,
		Inventory:      repository.NewInventoryRepository(pool),
		Vouchers:       voucher.NewEvaluator(repository.NewVoucherRepository(pool)),
		Payments:       payment.NewAdapter(vnpay, paymentRepo),
		Notifier:       notifier,
		MeterProvider:  mp,
		TracerProvider: tp,
	}

	// Checkout double-submit guard.
	if cfg.Redis.Addr != "" {
		rdb := redisx.New(cfg.Redis.Addr)
		srv.closers = append(srv.closers, rdb.Close)

		deps.Guard = redisx.NewSubmissionGuard(rdb, cfg.Redis.GuardTTL)
		srv.health.Add(health.Check{
			Name:             "redis",
			Kind:             health.Readiness,
			Timeout:          2 * time.Second,
			FailureThreshold: 5,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}

	srv.orders, err = order.NewService(deps)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	authn := auth.NewAuthenticator(repository.NewAPIKeyRepository(pool), []byte(cfg.APIKeyPepper))

	h := handler.NewHandler(handler.Config{
		SuccessURL: cfg.Frontend.SuccessURL,
		FailureURL: cfg.Frontend.FailureURL,
	}, srv.orders, authn)

	router := h.Router(httpmiddleware.LogRequests())
	router.Get("/livez", srv.health.LiveEndpoint)
	router.Get("/readyz", srv.health.ReadyEndpoint)

	srv.limiter = httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
		Key:    handler.RateLimitKey,
	})

	srv.handler = httpmiddleware.Wrap(router,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.HeaderAPIKey, handler.HeaderIdempotencyKey},
			ExposeHeaders:    []string{httpmiddleware.HeaderRequestID},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
		httpmiddleware.RateLimit(srv.limiter),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument(serviceName, tp, mp),
	)
	return srv, nil
}
