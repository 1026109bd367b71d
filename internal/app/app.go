package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/ordergenie-engine/internal/audit"
	"github.com/xenking/ordergenie-engine/internal/broker"
	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/notify"
	"github.com/xenking/ordergenie-engine/internal/outbox"
	"github.com/xenking/ordergenie-engine/internal/payment"
	"github.com/xenking/ordergenie-engine/internal/repository"
	"github.com/xenking/ordergenie-engine/pkg/health"
	"github.com/xenking/ordergenie-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the outbox worker, the payment
// consumer and the ops server, and handles graceful shutdown. It is the single
// wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// RabbitMQ connection, topology and publisher.
	conn, err := broker.Dial(ctx, cfg.RabbitMQURL, broker.Options{
		Bindings: broker.DefaultBindings(cfg.Payments.Queue),
	})
	if err != nil {
		return errors.Wrap(err, "connect rabbitmq")
	}
	defer func() { _ = conn.Close() }()

	publisher := broker.NewPublisher(conn)
	defer func() { _ = publisher.Close() }()

	// Outbox subscribers.
	broadcaster := notify.NewBroadcaster(publisher)
	printer, err := newKitchenPrinter(cfg.Kitchen, m, broadcaster)
	if err != nil {
		return errors.Wrap(err, "create kitchen printer")
	}
	loc, err := time.LoadLocation(cfg.Kitchen.TimeZone)
	if err != nil {
		return errors.Wrap(err, "load kitchen time zone")
	}
	subscribers := []outbox.Subscriber{
		audit.Subscriber(repository.NewAuditRepository(pool)),
		notify.RestaurantSubscriber(broadcaster),
		notify.CustomerSubscriber(broadcaster),
		notify.KitchenSubscriber(printer, loc),
		broker.RelaySubscriber(publisher, order.EventTypes()...),
	}

	// Order service over the transactional store.
	restock, err := order.ParseRestockPolicy(cfg.Orders.RefundRestock)
	if err != nil {
		return errors.Wrap(err, "parse refund restock policy")
	}
	store := repository.NewStore(pool, outbox.Routes(subscribers...))
	orders, err := order.NewService(store,
		order.WithRetryPolicy(cfg.Orders.RetryPolicy()),
		order.WithRefundRestock(restock),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	outboxRepo := repository.NewOutboxRepository(pool)
	worker, err := outbox.NewWorker(outboxRepo, subscribers, outbox.Options{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		Lease:         cfg.Outbox.Lease,
		Concurrency:   cfg.Outbox.Concurrency,
		MaxAttempts:   cfg.Outbox.MaxAttempts,
		BaseBackoff:   cfg.Outbox.BaseBackoff,
		MaxBackoff:    cfg.Outbox.MaxBackoff,
		MeterProvider: m.MeterProvider(),
		Backlog:       outboxRepo.Backlog,
	})
	if err != nil {
		return errors.Wrap(err, "create outbox worker")
	}

	payments := broker.NewConsumer(conn, broker.ConsumerOptions{
		Queue:    cfg.Payments.Queue,
		Tag:      "ordergenie-payments",
		Prefetch: cfg.Payments.Prefetch,
	})
	paymentHandler := payment.NewHandler(orders)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("rabbitmq", time.Second, conn.Check, health.WithFailureThreshold(2))
	healthSvc.AddReadinessCheck("outbox", 5*time.Second, health.BacklogCheck(outboxRepo.Backlog, cfg.Outbox.MaxBacklog))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(healthSvc.Handler(),
			httpmiddleware.Instrument("ordergenie-ops", m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gCtx)
	})
	g.Go(func() error {
		return payments.Run(gCtx, paymentHandler.Handle)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	// Graceful shutdown: wait for cancellation or a failed component, drain,
	// then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}

// newKitchenPrinter prints through PrintNode when an API key is configured
// and falls back to emailing the kitchen.
func newKitchenPrinter(cfg KitchenConfig, m *app.Telemetry, mailer notify.Mailer) (notify.Printer, error) {
	var primary notify.Printer
	if cfg.PrintNodeAPIKey != "" {
		pn, err := notify.NewPrintNodeClient(notify.PrintNodeConfig{
			BaseURL:        cfg.PrintNodeURL,
			APIKey:         cfg.PrintNodeAPIKey,
			PrinterID:      cfg.PrinterID,
			Timeout:        cfg.Timeout,
			TracerProvider: m.TracerProvider(),
		})
		if err != nil {
			return nil, err
		}
		primary = pn
	}
	return notify.NewFallbackPrinter(primary, mailer, cfg.Email), nil
}
