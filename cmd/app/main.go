package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"subscription-lifecycle/internal/config"
	"subscription-lifecycle/internal/domain/ports/adapter"
	"subscription-lifecycle/internal/infra/adapters/billing"
	"subscription-lifecycle/internal/infra/adapters/events"
	"subscription-lifecycle/internal/infra/api/apiv1"
	pg "subscription-lifecycle/internal/infra/db/postgres"
	"subscription-lifecycle/internal/infra/logging"
	"subscription-lifecycle/internal/infra/metrics"
	red "subscription-lifecycle/internal/infra/redis"
	"subscription-lifecycle/internal/infra/sched"
	"subscription-lifecycle/internal/infra/web"
	"subscription-lifecycle/internal/infra/worker"
	"subscription-lifecycle/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop billing provider allowed)")
	migrate := flag.Bool("migrate", false, "apply the embedded schema before starting")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Billing.Provider)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if *migrate || cfg.Database.Migrate {
		if err := pg.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		logger.Info().Msg("schema applied")
	}
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	ledger := usecase.Ledger{
		Tx:            pg.NewTxManager(pool),
		Plans:         pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient, cfg.Redis.TTL, logger),
		Subscriptions: pg.NewSubscriptionRepo(pool),
		History:       pg.NewHistoryRepo(pool),
		Coupons:       pg.NewCouponRepo(pool),
		Customers:     pg.NewCustomerRepo(pool),
		Invoices:      pg.NewInvoiceRepo(pool),
		Discrepancies: pg.NewDiscrepancyRepo(pool),
	}

	// ---- Billing provider ----
	var gateway adapter.BillingGateway
	switch cfg.Billing.Provider {
	case "stripe":
		gateway, err = billing.NewStripeGateway(billing.StripeOptions{
			SecretKey:   cfg.Billing.Stripe.SecretKey,
			APIURL:      cfg.Billing.Stripe.APIURL,
			CallTimeout: cfg.Billing.CallTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("stripe gateway")
		}
	default:
		logger.Warn().Msg("billing provider is noop; no money moves")
		gateway = billing.NewNoopGateway()
	}
	if cfg.Billing.Breaker.Enabled {
		gateway = billing.NewBreakerGateway(gateway, cfg.Billing.Breaker, logger)
	}

	// ---- Lifecycle events ----
	publishPool := worker.NewPool(cfg.Kafka.Workers, logger)
	publishPool.Start(ctx)
	var sink adapter.EventPublisher = events.NewLogPublisher(logger)
	if cfg.Kafka.Enabled {
		sink = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("publishing lifecycle events to kafka")
	}
	publisher := events.NewAsyncPublisher(sink, publishPool, logger)

	// ---- Use cases ----
	retry := usecase.RetryPolicy{MaxAttempts: cfg.Billing.Retry.MaxAttempts, BaseDelay: cfg.Billing.Retry.BaseDelay}
	planUC := usecase.NewPlanUseCase(ledger.Plans)
	couponUC := usecase.NewCouponUseCase(ledger.Coupons, planUC, nil)
	lifecycleUC := usecase.NewLifecycleUseCase(ledger, planUC, couponUC, gateway, publisher, usecase.LifecycleOptions{
		Retry:      retry,
		SuccessURL: cfg.Billing.SuccessURL,
		CancelURL:  cfg.Billing.CancelURL,
	}, logger)
	billingUC := usecase.NewBillingEventUseCase(ledger, publisher, nil, logger)
	expiryUC := usecase.NewExpiryUseCase(ledger, publisher, logger)
	reconcileUC := usecase.NewReconcileUseCase(ledger, gateway, publisher, retry, cfg.Scheduler.MaxAttempts, nil, logger)
	statsUC := usecase.NewStatsUseCase(ledger.Subscriptions, ledger.Discrepancies, logger)

	// ---- Public API ----
	auth := apiv1.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	api := apiv1.NewServer(lifecycleUC, planUC, couponUC, billingUC, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           apiv1.NewRouter(api, auth, cfg.Auth.InternalAPIKey, cfg.HTTP.RequestTimeout, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Admin API + metrics ----
	adminMux := http.NewServeMux()
	web.NewServer(statsUC, reconcileUC, cfg.Scheduler.BatchSize, cfg.Auth.AdminAPIKey, logger).RegisterRoutes(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())
	admin := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.AdminPort),
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, s := range []*http.Server{server, admin} {
		go func(s *http.Server) {
			logger.Info().Str("addr", s.Addr).Msg("http listening")
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", s.Addr).Msg("http server error")
				cancel()
			}
		}(s)
	}

	// ---- Background sweeps ----
	expiry := sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, cfg.Scheduler.BatchSize, cfg.Scheduler.LockTTL, expiryUC, locker, logger)
	reconciler := sched.NewReconcileWorker(reconcileUC, statsUC, locker, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.BatchSize, cfg.Scheduler.LockTTL, logger)
	go func() { _ = expiry.Run(ctx) }()
	go func() { _ = reconciler.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	for _, s := range []*http.Server{server, admin} {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", s.Addr).Msg("http shutdown")
		}
	}
	// Drain queued events while ctx is still live, then stop the sweeps.
	publishPool.Stop()
	cancel()
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("close publisher")
	}
	logger.Info().Msg("stopped")
}
