// Command server runs the invoice issuance and registration service: the
// HTTP API, the submission scheduler, and the outbox relay, sharing one
// Postgres pool.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/facturae"
	billinghandler "facturador/internal/billing/handler"
	"facturador/internal/billing/metrics"
	"facturador/internal/billing/sequence"
	"facturador/internal/billing/service"
	billingstore "facturador/internal/billing/store"
	"facturador/internal/billing/submission"
	"facturador/internal/billing/tax"
	"facturador/internal/events"
	"facturador/internal/issuer"
	issuerhandler "facturador/internal/issuer/handler"
	jwttoken "facturador/internal/jwt_token"
	"facturador/internal/platform/config"
	"facturador/internal/platform/httpserver"
	"facturador/internal/platform/logger"
	platformredis "facturador/internal/platform/redis"
	"facturador/internal/ratelimit"
	httptransport "facturador/internal/transport/http"
)

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration error", "err", err)
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Error("open postgres", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		log.Error("postgres unreachable", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	invoices := billingstore.NewPostgres(db)
	chainStore := chain.NewPostgres(db)
	submissions := submission.NewPostgres(db)
	eventStore := events.NewPostgres(db)
	issuers := issuer.NewService(issuer.NewPostgres(db), log)
	publisher := events.NewPublisher(eventStore)

	exporter, err := facturae.NewExporter(cfg.Facturae, log)
	if err != nil {
		log.Error("facturae exporter init failed", "err", err)
		os.Exit(1)
	}

	orch, err := service.New(service.Params{
		Issuers:     issuers,
		Invoices:    invoices,
		Allocator:   sequence.NewPostgres(db),
		Registrar:   chain.NewRegistrar(chainStore),
		Submissions: submissions,
		Engine:      tax.NewEngine(tax.StatutoryRates()),
		Exporter:    exporter,
		Publisher:   publisher,
		Tx:          service.NewSQLStoreTx(db),
		Metrics:     m,
		Logger:      log,
	})
	if err != nil {
		log.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	authority, err := submission.NewHTTPClient(cfg.Verifactu)
	if err != nil {
		log.Error("authority client init failed", "err", err)
		os.Exit(1)
	}

	coordinator, err := submission.NewCoordinator(submission.CoordinatorParams{
		Submissions: submissions,
		ChainStore:  chainStore,
		Invoices:    invoices,
		Client:      authority,
		Issuers:     issuers,
		Backoff:     submission.Backoff{Base: cfg.Retry.BaseDelay, Max: cfg.Retry.MaxDelay},
		MaxAttempts: cfg.Retry.MaxAttempts,
		CertAlias:   cfg.Verifactu.CertAlias,
		TestMode:    cfg.Verifactu.TestMode,
		Hooks: submission.Hooks{
			OnAcknowledged: orch.OnAcknowledged,
			OnRejected:     orch.OnRejected,
		},
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		log.Error("submission coordinator init failed", "err", err)
		os.Exit(1)
	}

	var locker submission.Locker = submission.NewLocalLocker()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = submission.NewRedisLocker(redisClient)
	}
	scheduler := submission.NewScheduler(coordinator, submissions, locker, 0, 0, log)

	var limiter ratelimit.Limiter = ratelimit.NewInMemory()
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient)
	}
	rateLimit := ratelimit.NewMiddleware(limiter, cfg.Server.RateLimit, cfg.Server.RateLimitWindow, log)

	relay, err := events.NewRelay(cfg.Kafka, eventStore, log)
	if err != nil {
		log.Error("event relay init failed", "err", err)
		os.Exit(1)
	}

	tokens := jwttoken.NewService(cfg.Server.JWTSigningKey, "facturador")
	router := httptransport.NewRouter(httptransport.RouterParams{
		Billing:    billinghandler.New(orch, coordinator, log),
		Issuers:    issuerhandler.New(issuers, orch, log),
		Validator:  jwttoken.NewServiceAdapter(tokens),
		AdminToken: os.Getenv("FACTURADOR_ADMIN_TOKEN"),
		RateLimit:  rateLimit,
		Registry:   registry,
		Logger:     log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting facturador", "addr", cfg.Server.Addr, "test_mode", cfg.Verifactu.TestMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(ctx)
	})
	if relay != nil {
		defer relay.Close()
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("facturador exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("facturador stopped")
}
