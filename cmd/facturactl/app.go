package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/facturae"
	"facturador/internal/billing/sequence"
	"facturador/internal/billing/service"
	billingstore "facturador/internal/billing/store"
	"facturador/internal/billing/submission"
	"facturador/internal/billing/tax"
	"facturador/internal/events"
	"facturador/internal/issuer"
	"facturador/internal/platform/config"
	"facturador/internal/platform/logger"
)

// app bundles the wired components a CLI command may need. Close the db when
// done.
type app struct {
	cfg         config.Config
	db          *sql.DB
	logger      *slog.Logger
	issuers     *issuer.Service
	orch        *service.Orchestrator
	coordinator *submission.Coordinator
	scheduler   *submission.Scheduler
}

// buildApp wires the billing stack against Postgres, mirroring the server's
// composition minus the HTTP layer and background loops.
func buildApp() (*app, error) {
	log := logger.New()
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	invoices := billingstore.NewPostgres(db)
	chainStore := chain.NewPostgres(db)
	submissions := submission.NewPostgres(db)
	issuers := issuer.NewService(issuer.NewPostgres(db), log)
	publisher := events.NewPublisher(events.NewPostgres(db))

	exporter, err := facturae.NewExporter(cfg.Facturae, log)
	if err != nil {
		db.Close()
		return nil, err
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
		Logger:      log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	authority, err := submission.NewHTTPClient(cfg.Verifactu)
	if err != nil {
		db.Close()
		return nil, err
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
		Logger: log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:         cfg,
		db:          db,
		logger:      log,
		issuers:     issuers,
		orch:        orch,
		coordinator: coordinator,
		scheduler:   submission.NewScheduler(coordinator, submissions, submission.NewLocalLocker(), 0, 0, log),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}
