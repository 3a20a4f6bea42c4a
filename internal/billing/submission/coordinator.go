package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/metrics"
	"facturador/internal/billing/models"
	"facturador/internal/billing/money"
	"facturador/internal/billing/store"
	id "facturador/pkg/domain"
)

// IssuerDirectory resolves issuer display data for the wire record.
type IssuerDirectory interface {
	LegalName(ctx context.Context, nif id.IssuerNIF) (string, error)
}

// Hooks let the orchestrator react to terminal submission outcomes without
// the coordinator knowing about export or event publishing.
type Hooks struct {
	// OnAcknowledged runs after the invoice has been updated with the
	// authority reference.
	OnAcknowledged func(ctx context.Context, inv *models.Invoice)
	// OnRejected runs after the invoice has been marked rejected.
	OnRejected func(ctx context.Context, inv *models.Invoice, receipt Receipt)
}

// Coordinator drives one submission record through its state machine.
//
// Failures are recorded on the record and rescheduled, never thrown back to
// the issuance path: Dispatch only returns an error for infrastructure
// faults that prevented recording an outcome at all.
type Coordinator struct {
	subs        Store
	chainStore  chain.Store
	invoices    store.InvoiceStore
	client      AuthorityClient
	issuers     IssuerDirectory
	backoff     Backoff
	maxAttempts int
	certAlias   string
	testMode    bool
	hooks       Hooks
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// CoordinatorParams collects the coordinator's dependencies.
type CoordinatorParams struct {
	Submissions Store
	ChainStore  chain.Store
	Invoices    store.InvoiceStore
	Client      AuthorityClient
	Issuers     IssuerDirectory
	Backoff     Backoff
	MaxAttempts int
	CertAlias   string
	TestMode    bool
	Hooks       Hooks
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// NewCoordinator validates params and builds a coordinator.
func NewCoordinator(p CoordinatorParams) (*Coordinator, error) {
	if p.Submissions == nil || p.ChainStore == nil || p.Invoices == nil || p.Client == nil {
		return nil, fmt.Errorf("submission coordinator: stores and client are required")
	}
	if p.MaxAttempts <= 0 {
		return nil, fmt.Errorf("submission coordinator: max attempts must be positive")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Coordinator{
		subs:        p.Submissions,
		chainStore:  p.ChainStore,
		invoices:    p.Invoices,
		client:      p.Client,
		issuers:     p.Issuers,
		backoff:     p.Backoff,
		maxAttempts: p.MaxAttempts,
		certAlias:   p.CertAlias,
		testMode:    p.TestMode,
		hooks:       p.Hooks,
		logger:      p.Logger,
		metrics:     p.Metrics,
	}, nil
}

// Dispatch submits one PENDING record and records the outcome. Safe to call
// again on the same record: non-PENDING records are skipped, and redelivery
// of an already-registered record is absorbed by the idempotency key.
func (c *Coordinator) Dispatch(ctx context.Context, rec models.SubmissionRecord) error {
	if rec.Status != models.SubmissionPending {
		return nil
	}
	now := time.Now()

	rec.Status = models.SubmissionSent
	rec.Attempts++
	rec.UpdatedAt = now
	if err := c.subs.Save(ctx, rec); err != nil {
		return fmt.Errorf("mark submission %s sent: %w", rec.ID, err)
	}

	payload, inv, err := c.buildRecord(ctx, rec)
	if err != nil {
		// Record data that cannot be assembled will not improve with retry.
		return c.recordFailure(ctx, rec, err, false)
	}

	if inv.Status == models.StatusNumbered {
		inv.Status = models.StatusSubmitted
		inv.UpdatedAt = now
		if err := c.invoices.Save(ctx, inv); err != nil {
			return fmt.Errorf("mark invoice %s submitted: %w", inv.ID, err)
		}
	}

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	receipt, err := c.client.Submit(submitCtx, payload)
	cancel()
	if err != nil {
		c.logger.Warn("authority submission failed",
			"invoice", rec.InvoiceID, "attempt", rec.Attempts, "err", err)
		return c.recordFailure(ctx, rec, err, true)
	}

	if !receipt.Accepted {
		return c.recordRejection(ctx, rec, inv, receipt)
	}
	return c.recordAcknowledgement(ctx, rec, inv, receipt)
}

func (c *Coordinator) buildRecord(ctx context.Context, rec models.SubmissionRecord) (RegistrationRecord, *models.Invoice, error) {
	entry, err := c.chainStore.Get(ctx, rec.IssuerNIF, rec.FiscalYear, rec.Sequence)
	if err != nil {
		return RegistrationRecord{}, nil, fmt.Errorf("load chain entry for submission %s: %w", rec.ID, err)
	}
	inv, err := c.invoices.Get(ctx, rec.InvoiceID)
	if err != nil {
		return RegistrationRecord{}, nil, fmt.Errorf("load invoice for submission %s: %w", rec.ID, err)
	}
	if inv.Status == models.StatusVoided {
		return RegistrationRecord{}, nil, fmt.Errorf("invoice %s was voided before dispatch", inv.ID)
	}
	issuerName := ""
	if c.issuers != nil {
		if issuerName, err = c.issuers.LegalName(ctx, rec.IssuerNIF); err != nil {
			return RegistrationRecord{}, nil, fmt.Errorf("resolve issuer name for %s: %w", rec.IssuerNIF, err)
		}
	}
	return RegistrationRecord{
		IssuerNIF:      rec.IssuerNIF.String(),
		IssuerName:     issuerName,
		InvoiceNumber:  inv.Number(),
		IssueDate:      inv.IssueDate.Format("2006-01-02"),
		Base:           money.Format(inv.Breakdown.TotalBase),
		Tax:            money.Format(inv.Breakdown.TotalTax),
		Total:          money.Format(inv.Breakdown.Total),
		ContentHash:    entry.ContentHash,
		PreviousHash:   entry.PreviousHash,
		IdempotencyKey: rec.IdempotencyKey,
		TestMode:       c.testMode,
	}, inv, nil
}

// recordFailure moves the record back to PENDING with a scheduled retry, or
// parks it as FAILED once attempts are exhausted (or the fault is permanent).
// Fiscal submission failures are never discarded.
func (c *Coordinator) recordFailure(ctx context.Context, rec models.SubmissionRecord, cause error, retryable bool) error {
	now := time.Now()
	rec.LastError = cause.Error()
	rec.UpdatedAt = now

	if retryable && rec.Attempts < c.maxAttempts {
		delay := c.backoff.Delay(rec.Attempts)
		next := now.Add(delay)
		rec.Status = models.SubmissionPending
		rec.NextRetryAt = &next
		if c.metrics != nil {
			c.metrics.SubmissionRetryScheduled()
		}
	} else {
		rec.Status = models.SubmissionFailed
		rec.NextRetryAt = nil
		c.logger.Error("submission attempts exhausted, operator action required",
			"invoice", rec.InvoiceID, "issuer", rec.IssuerNIF, "attempts", rec.Attempts, "err", cause)
		if c.metrics != nil {
			c.metrics.SubmissionExhausted()
		}
	}
	if err := c.subs.Save(ctx, rec); err != nil {
		return fmt.Errorf("record submission failure for %s: %w", rec.ID, err)
	}
	return nil
}

func (c *Coordinator) recordRejection(ctx context.Context, rec models.SubmissionRecord, inv *models.Invoice, receipt Receipt) error {
	now := time.Now()
	rec.Status = models.SubmissionRejected
	rec.LastError = fmt.Sprintf("%s: %s", receipt.ErrorCode, receipt.Message)
	rec.NextRetryAt = nil
	rec.UpdatedAt = now
	if err := c.subs.Save(ctx, rec); err != nil {
		return fmt.Errorf("record submission rejection for %s: %w", rec.ID, err)
	}

	inv.Status = models.StatusRejected
	inv.UpdatedAt = now
	if err := c.invoices.Save(ctx, inv); err != nil {
		return fmt.Errorf("mark invoice %s rejected: %w", inv.ID, err)
	}

	c.logger.Error("authority rejected registration, issue a rectifying invoice",
		"invoice", inv.ID, "number", inv.Number(), "code", receipt.ErrorCode, "message", receipt.Message)
	if c.metrics != nil {
		c.metrics.SubmissionRejected()
	}
	if c.hooks.OnRejected != nil {
		c.hooks.OnRejected(ctx, inv, receipt)
	}
	return nil
}

func (c *Coordinator) recordAcknowledgement(ctx context.Context, rec models.SubmissionRecord, inv *models.Invoice, receipt Receipt) error {
	now := time.Now()
	rec.Status = models.SubmissionAcknowledged
	rec.AuthorityRef = receipt.Reference
	rec.AcknowledgedAt = &now
	rec.LastError = ""
	rec.NextRetryAt = nil
	rec.UpdatedAt = now
	if err := c.subs.Save(ctx, rec); err != nil {
		return fmt.Errorf("record submission acknowledgement for %s: %w", rec.ID, err)
	}

	inv.ApplyAcknowledgement(receipt.Reference, c.certAlias, now)
	if err := c.invoices.Save(ctx, inv); err != nil {
		return fmt.Errorf("store authority reference on invoice %s: %w", inv.ID, err)
	}

	c.logger.Info("invoice registered with authority",
		"invoice", inv.ID, "number", inv.Number(), "reference", receipt.Reference, "attempts", rec.Attempts)
	if c.metrics != nil {
		c.metrics.SubmissionAcknowledged()
	}
	if c.hooks.OnAcknowledged != nil {
		c.hooks.OnAcknowledged(ctx, inv)
	}
	return nil
}

// Resubmit requeues a FAILED record for another retry cycle. Operator
// action via facturactl; REJECTED records stay terminal.
func (c *Coordinator) Resubmit(ctx context.Context, invoiceID id.InvoiceID) error {
	rec, err := c.subs.GetByInvoice(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load submission for invoice %s: %w", invoiceID, err)
	}
	if rec.Status == models.SubmissionRejected {
		return errors.New("submission was definitively rejected; issue a rectifying invoice")
	}
	if rec.Status != models.SubmissionFailed {
		return fmt.Errorf("submission for invoice %s is %s, only FAILED can be resubmitted", invoiceID, rec.Status)
	}
	inv, err := c.invoices.Get(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}
	if inv.Status == models.StatusVoided {
		return fmt.Errorf("invoice %s was voided; its registration stays cancelled", invoiceID)
	}
	now := time.Now()
	rec.Status = models.SubmissionPending
	rec.Attempts = 0
	rec.NextRetryAt = &now
	rec.UpdatedAt = now
	if err := c.subs.Save(ctx, rec); err != nil {
		return fmt.Errorf("requeue submission for invoice %s: %w", invoiceID, err)
	}
	return nil
}
