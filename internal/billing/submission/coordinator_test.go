package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/models"
	"facturador/internal/billing/store"
)

// scriptedClient replays a fixed sequence of outcomes, one per Submit call.
type scriptedClient struct {
	outcomes []func() (Receipt, error)
	calls    int
	lastRec  RegistrationRecord
}

func (c *scriptedClient) Submit(_ context.Context, rec RegistrationRecord) (Receipt, error) {
	c.lastRec = rec
	if c.calls >= len(c.outcomes) {
		return Receipt{}, errors.New("unexpected submit call")
	}
	out := c.outcomes[c.calls]
	c.calls++
	return out()
}

func transientFailure() (Receipt, error) {
	return Receipt{}, errors.New("connection reset")
}

func acceptance(ref string) func() (Receipt, error) {
	return func() (Receipt, error) {
		return Receipt{Accepted: true, Reference: ref}, nil
	}
}

func rejection(code, msg string) func() (Receipt, error) {
	return func() (Receipt, error) {
		return Receipt{Accepted: false, ErrorCode: code, Message: msg}, nil
	}
}

type coordinatorFixture struct {
	subs        *InMemoryStore
	invoices    *store.InMemoryStore
	coordinator *Coordinator
	invoice     *models.Invoice
	record      models.SubmissionRecord
	acked       []*models.Invoice
	rejected    []*models.Invoice
}

func newCoordinatorFixture(t *testing.T, client AuthorityClient, maxAttempts int) *coordinatorFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	invoices := store.NewInMemory()
	chainStore := chain.NewInMemory()
	subs := NewInMemory()

	inv, err := models.NewDraft("B12345678", models.Counterparty{NIF: "A11111111", Name: "Clinica Sol SL"},
		now, time.Time{}, []models.InvoiceLine{{
			Description: "Consulta",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString("100.00"),
			RateClass:   models.RateGeneral,
		}}, now)
	require.NoError(t, err)
	inv.Breakdown = models.TaxBreakdown{
		Groups: []models.TaxGroup{{
			RatePct: decimal.NewFromInt(21),
			Base:    decimal.RequireFromString("100.00"),
			Tax:     decimal.RequireFromString("21.00"),
		}},
		TotalBase: decimal.RequireFromString("100.00"),
		TotalTax:  decimal.RequireFromString("21.00"),
		Total:     decimal.RequireFromString("121.00"),
	}

	content := chain.ContentHash(inv)
	entry := models.ChainEntry{
		IssuerNIF:    inv.IssuerNIF,
		FiscalYear:   2026,
		Sequence:     1,
		ContentHash:  content,
		PreviousHash: models.GenesisHash,
		EntryHash:    chain.EntryHash(content, models.GenesisHash),
		CreatedAt:    now,
	}
	require.NoError(t, chainStore.Append(ctx, entry))

	inv.ApplyNumbering(entry.FiscalYear, entry.Sequence, entry.EntryHash, now)
	require.NoError(t, invoices.Create(ctx, inv))

	rec := models.NewSubmissionRecord(inv.ID, entry, now)
	require.NoError(t, subs.Create(ctx, rec))

	f := &coordinatorFixture{subs: subs, invoices: invoices, invoice: inv, record: rec}
	coordinator, err := NewCoordinator(CoordinatorParams{
		Submissions: subs,
		ChainStore:  chainStore,
		Invoices:    invoices,
		Client:      client,
		Backoff:     Backoff{Base: 10 * time.Millisecond, Max: time.Second},
		MaxAttempts: maxAttempts,
		CertAlias:   "sello-2026",
		TestMode:    true,
		Hooks: Hooks{
			OnAcknowledged: func(_ context.Context, inv *models.Invoice) { f.acked = append(f.acked, inv) },
			OnRejected:     func(_ context.Context, inv *models.Invoice, _ Receipt) { f.rejected = append(f.rejected, inv) },
		},
	})
	require.NoError(t, err)
	f.coordinator = coordinator
	return f
}

// dispatchCurrent reloads the record and runs one dispatch cycle.
func (f *coordinatorFixture) dispatchCurrent(t *testing.T) models.SubmissionRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := f.subs.Get(ctx, f.record.ID)
	require.NoError(t, err)
	require.NoError(t, f.coordinator.Dispatch(ctx, rec))
	rec, err = f.subs.Get(ctx, f.record.ID)
	require.NoError(t, err)
	return rec
}

func TestDispatchAcknowledged(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){acceptance("AEAT-REF-001")}}
	f := newCoordinatorFixture(t, client, 5)

	rec := f.dispatchCurrent(t)

	require.Equal(t, models.SubmissionAcknowledged, rec.Status)
	require.Equal(t, "AEAT-REF-001", rec.AuthorityRef)
	require.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.AcknowledgedAt)
	require.Nil(t, rec.NextRetryAt)

	inv, err := f.invoices.Get(context.Background(), f.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAcknowledged, inv.Status)
	require.Equal(t, "AEAT-REF-001", inv.AuthorityRef)
	require.Equal(t, "sello-2026", inv.CertAlias)
	require.Len(t, f.acked, 1)

	require.Equal(t, "B12345678-2026-00000001", client.lastRec.IdempotencyKey)
	require.Equal(t, "2026/00000001", client.lastRec.InvoiceNumber)
	require.Equal(t, "100.00", client.lastRec.Base)
	require.Equal(t, "21.00", client.lastRec.Tax)
	require.Equal(t, "121.00", client.lastRec.Total)
	require.Equal(t, models.GenesisHash, client.lastRec.PreviousHash)
	require.True(t, client.lastRec.TestMode)
}

func TestDispatchRetriesThenAcknowledged(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){
		transientFailure,
		transientFailure,
		acceptance("AEAT-REF-002"),
	}}
	f := newCoordinatorFixture(t, client, 5)

	rec := f.dispatchCurrent(t)
	require.Equal(t, models.SubmissionPending, rec.Status)
	require.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.NextRetryAt)
	require.Contains(t, rec.LastError, "connection reset")

	rec = f.dispatchCurrent(t)
	require.Equal(t, models.SubmissionPending, rec.Status)
	require.Equal(t, 2, rec.Attempts)

	rec = f.dispatchCurrent(t)
	require.Equal(t, models.SubmissionAcknowledged, rec.Status)
	require.Equal(t, 3, rec.Attempts)
	require.Empty(t, rec.LastError)

	// Every retry presented the same deduplication key.
	require.Equal(t, 3, client.calls)
	require.Equal(t, "B12345678-2026-00000001", client.lastRec.IdempotencyKey)
	require.Len(t, f.acked, 1)
}

func TestDispatchRejectedIsTerminal(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){rejection("4102", "NIF desconocido")}}
	f := newCoordinatorFixture(t, client, 5)

	rec := f.dispatchCurrent(t)
	require.Equal(t, models.SubmissionRejected, rec.Status)
	require.True(t, rec.Status.Terminal())
	require.Nil(t, rec.NextRetryAt)
	require.Contains(t, rec.LastError, "4102")

	inv, err := f.invoices.Get(context.Background(), f.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, inv.Status)
	require.Len(t, f.rejected, 1)

	// A rejected record is never picked up again.
	require.NoError(t, f.coordinator.Dispatch(context.Background(), rec))
	require.Equal(t, 1, client.calls)
}

func TestDispatchExhaustionThenResubmit(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){
		transientFailure, transientFailure, transientFailure,
		acceptance("AEAT-REF-003"),
	}}
	f := newCoordinatorFixture(t, client, 3)

	f.dispatchCurrent(t)
	f.dispatchCurrent(t)
	rec := f.dispatchCurrent(t)

	require.Equal(t, models.SubmissionFailed, rec.Status)
	require.Equal(t, 3, rec.Attempts)
	require.Nil(t, rec.NextRetryAt)

	// FAILED records need an operator; Dispatch skips them.
	require.NoError(t, f.coordinator.Dispatch(context.Background(), rec))
	require.Equal(t, 3, client.calls)

	require.NoError(t, f.coordinator.Resubmit(context.Background(), f.invoice.ID))
	rec = f.dispatchCurrent(t)
	require.Equal(t, models.SubmissionAcknowledged, rec.Status)
	require.Len(t, f.acked, 1)
}

func TestResubmitRejectedRefused(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){rejection("4102", "NIF desconocido")}}
	f := newCoordinatorFixture(t, client, 3)

	f.dispatchCurrent(t)
	err := f.coordinator.Resubmit(context.Background(), f.invoice.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rectifying")
}

func TestSchedulerDrainDispatchesDue(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){acceptance("AEAT-REF-004")}}
	f := newCoordinatorFixture(t, client, 3)

	scheduler := NewScheduler(f.coordinator, f.subs, NewLocalLocker(), time.Minute, 10, nil)
	n, err := scheduler.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := f.subs.Get(context.Background(), f.record.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionAcknowledged, rec.Status)

	// Nothing due on the next pass.
	n, err = scheduler.Drain(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListDueRespectsRetrySchedule(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){transientFailure}}
	f := newCoordinatorFixture(t, client, 3)

	rec := f.dispatchCurrent(t)
	require.NotNil(t, rec.NextRetryAt)

	due, err := f.subs.ListDue(context.Background(), rec.NextRetryAt.Add(-time.Millisecond), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = f.subs.ListDue(context.Background(), rec.NextRetryAt.Add(time.Millisecond), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, rec.ID, due[0].ID)
}

func TestDrainRecoversStrandedSent(t *testing.T) {
	client := &scriptedClient{outcomes: []func() (Receipt, error){acceptance("AEAT-REF-005")}}
	f := newCoordinatorFixture(t, client, 3)
	ctx := context.Background()

	// A crash between marking SENT and recording the outcome leaves the
	// record invisible to ListDue and ineligible for Resubmit.
	rec, err := f.subs.Get(ctx, f.record.ID)
	require.NoError(t, err)
	rec.Status = models.SubmissionSent
	rec.Attempts = 1
	rec.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, f.subs.Save(ctx, rec))

	due, err := f.subs.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	scheduler := NewScheduler(f.coordinator, f.subs, NewLocalLocker(), time.Minute, 10, nil)
	n, err := scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err = f.subs.Get(ctx, f.record.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionAcknowledged, rec.Status)
}

func TestDrainLeavesFreshSentAlone(t *testing.T) {
	client := &scriptedClient{}
	f := newCoordinatorFixture(t, client, 3)
	ctx := context.Background()

	rec, err := f.subs.Get(ctx, f.record.ID)
	require.NoError(t, err)
	rec.Status = models.SubmissionSent
	rec.UpdatedAt = time.Now()
	require.NoError(t, f.subs.Save(ctx, rec))

	scheduler := NewScheduler(f.coordinator, f.subs, NewLocalLocker(), time.Minute, 10, nil)
	n, err := scheduler.Drain(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, client.calls)
}
