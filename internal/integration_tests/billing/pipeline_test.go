//go:build integration

package billing

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/models"
	"facturador/internal/billing/sequence"
	"facturador/internal/billing/service"
	"facturador/internal/billing/store"
	"facturador/internal/billing/submission"
	"facturador/internal/billing/tax"
	"facturador/internal/events"
	"facturador/internal/issuer"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
	"facturador/pkg/testutil"
	"facturador/pkg/testutil/containers"
)

type pgStack struct {
	db       *sql.DB
	orch     *service.Orchestrator
	issuers  *issuer.Service
	invoices store.InvoiceStore
	chain    chain.Store
	subs     submission.Store
	alloc    sequence.Allocator
	nif      id.IssuerNIF
}

func newPGStack(t *testing.T) *pgStack {
	t.Helper()

	pc := containers.NewPostgresContainer(t)
	logger := testutil.DiscardLogger()

	issuers := issuer.NewService(issuer.NewPostgres(pc.DB), logger)
	invoices := store.NewPostgres(pc.DB)
	chainStore := chain.NewPostgres(pc.DB)
	subs := submission.NewPostgres(pc.DB)
	alloc := sequence.NewPostgres(pc.DB)

	orch, err := service.New(service.Params{
		Issuers:     issuers,
		Invoices:    invoices,
		Allocator:   alloc,
		Registrar:   chain.NewRegistrar(chainStore),
		Submissions: subs,
		Engine:      tax.NewEngine(tax.StatutoryRates()),
		Publisher:   events.NewPublisher(events.NewPostgres(pc.DB)),
		Tx:          service.NewSQLStoreTx(pc.DB),
		Logger:      logger,
	})
	require.NoError(t, err)

	iss, err := issuers.Register(context.Background(), issuer.RegisterInput{
		NIF:       "B12345678",
		LegalName: "Clinica Delgado SL",
		Town:      "Madrid",
		Province:  "Madrid",
	})
	require.NoError(t, err)

	return &pgStack{
		db:       pc.DB,
		orch:     orch,
		issuers:  issuers,
		invoices: invoices,
		chain:    chainStore,
		subs:     subs,
		alloc:    alloc,
		nif:      iss.NIF,
	}
}

func (s *pgStack) draft(t *testing.T, ctx context.Context) *models.Invoice {
	t.Helper()
	inv, err := s.orch.CreateDraft(ctx, service.DraftInput{
		IssuerNIF: s.nif.String(),
		Counterparty: models.Counterparty{
			NIF:  "12345678Z",
			Name: "Juan Perez",
		},
		IssueDate: time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		Lines: []models.InvoiceLine{{
			Description: "Consulta de nutrición",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(100),
			RateClass:   models.RateGeneral,
		}},
	})
	require.NoError(t, err)
	return inv
}

func TestIssuancePipelineAgainstPostgres(t *testing.T) {
	s := newPGStack(t)
	ctx := context.Background()

	var issued *models.Invoice
	testutil.When(t, "a draft is issued", func(t *testing.T) {
		var err error
		issued, err = s.orch.Issue(ctx, s.draft(t, ctx).ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusNumbered, issued.Status)
		require.Equal(t, int64(1), issued.Sequence)
	})

	testutil.Then(t, "the chain and submission rows are in place", func(t *testing.T) {
		head, err := s.chain.Head(ctx, s.nif)
		require.NoError(t, err)
		require.Equal(t, models.GenesisHash, head.PreviousHash)
		require.Equal(t, issued.ChainHash, head.EntryHash)

		rec, err := s.subs.GetByInvoice(ctx, issued.ID)
		require.NoError(t, err)
		require.Equal(t, models.SubmissionPending, rec.Status)
		require.Equal(t, "B12345678-2026-00000001", rec.IdempotencyKey)
	})

	testutil.Then(t, "a reloaded invoice round-trips every column", func(t *testing.T) {
		got, err := s.invoices.Get(ctx, issued.ID)
		require.NoError(t, err)
		require.Equal(t, issued.Number(), got.Number())
		require.Equal(t, issued.ChainHash, got.ChainHash)
		require.Equal(t, "Juan Perez", got.Counterparty.Name)
		require.True(t, issued.Breakdown.Total.Equal(got.Breakdown.Total))
	})

	testutil.Then(t, "chain verification passes", func(t *testing.T) {
		require.NoError(t, s.orch.VerifyChain(ctx, s.nif))
	})
}

func TestConcurrentIssuanceIsGapless(t *testing.T) {
	s := newPGStack(t)
	ctx := context.Background()

	const n = 5
	drafts := make([]*models.Invoice, n)
	for i := range drafts {
		drafts[i] = s.draft(t, ctx)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range drafts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.orch.Issue(ctx, drafts[i].ID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "issuance %d", i)
	}

	entries, err := s.chain.ListAsc(ctx, s.nif)
	require.NoError(t, err)
	require.Len(t, entries, n)

	prev := models.GenesisHash
	for i, entry := range entries {
		require.Equal(t, int64(i+1), entry.Sequence)
		require.Equal(t, prev, entry.PreviousHash)
		prev = entry.EntryHash
	}
}

func TestRolledBackAllocationDoesNotBurnNumbers(t *testing.T) {
	s := newPGStack(t)
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	seq, err := s.alloc.Next(txcontext.WithTx(ctx, tx), s.nif, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.NoError(t, tx.Rollback())

	// The counter row was locked, not committed, so the number is reissued.
	tx, err = s.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	seq, err = s.alloc.Next(txcontext.WithTx(ctx, tx), s.nif, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), seq)
	require.NoError(t, tx.Commit())

	current, err := s.alloc.Current(ctx, s.nif, 2026)
	require.NoError(t, err)
	require.Equal(t, int64(1), current)
}

func TestDuplicateRegistrationIsRejected(t *testing.T) {
	s := newPGStack(t)
	ctx := context.Background()

	issued, err := s.orch.Issue(ctx, s.draft(t, ctx).ID)
	require.NoError(t, err)

	head, err := s.chain.Head(ctx, s.nif)
	require.NoError(t, err)

	err = s.chain.Append(ctx, models.ChainEntry{
		IssuerNIF:    s.nif,
		FiscalYear:   head.FiscalYear,
		Sequence:     head.Sequence,
		ContentHash:  head.ContentHash,
		PreviousHash: head.PreviousHash,
		EntryHash:    head.EntryHash,
		CreatedAt:    time.Now(),
	})
	require.ErrorIs(t, err, sentinel.ErrConflict)

	rec, err := s.subs.GetByInvoice(ctx, issued.ID)
	require.NoError(t, err)
	dup := models.NewSubmissionRecord(issued.ID, head, time.Now())
	require.Equal(t, rec.IdempotencyKey, dup.IdempotencyKey)
	require.ErrorIs(t, s.subs.Create(ctx, dup), sentinel.ErrConflict)
}

func TestDrainLockSerializesReplicas(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	locker := submission.NewRedisLocker(rc.Client)

	unlock, ok, err := locker.TryLock(ctx, "dispatch:B12345678", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "dispatch:B12345678", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second replica must not win the lock")

	unlock()

	unlock, ok, err = locker.TryLock(ctx, "dispatch:B12345678", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}
