// Package service orchestrates invoice issuance: tax computation, gapless
// numbering, chain registration, submission scheduling, and Facturae export.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"facturador/internal/billing/chain"
	"facturador/internal/billing/facturae"
	"facturador/internal/billing/metrics"
	"facturador/internal/billing/models"
	"facturador/internal/billing/sequence"
	"facturador/internal/billing/store"
	"facturador/internal/billing/submission"
	"facturador/internal/billing/tax"
	"facturador/internal/events"
	"facturador/internal/issuer"
	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
	"facturador/pkg/platform/sentinel"
	"facturador/pkg/requestcontext"
)

// issueRetries bounds retries of the issuance transaction when concurrent
// allocation for the same issuer hits a serialization conflict.
const issueRetries = 3

// Orchestrator drives the invoice lifecycle end to end.
type Orchestrator struct {
	issuers     *issuer.Service
	invoices    store.InvoiceStore
	allocator   sequence.Allocator
	registrar   *chain.Registrar
	submissions submission.Store
	engine      *tax.Engine
	exporter    *facturae.Exporter
	publisher   *events.Publisher
	tx          StoreTx
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Params collects the orchestrator's dependencies.
type Params struct {
	Issuers     *issuer.Service
	Invoices    store.InvoiceStore
	Allocator   sequence.Allocator
	Registrar   *chain.Registrar
	Submissions submission.Store
	Engine      *tax.Engine
	Exporter    *facturae.Exporter
	Publisher   *events.Publisher
	Tx          StoreTx
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// New validates params and builds the orchestrator.
func New(p Params) (*Orchestrator, error) {
	if p.Issuers == nil || p.Invoices == nil || p.Allocator == nil || p.Registrar == nil ||
		p.Submissions == nil || p.Engine == nil {
		return nil, fmt.Errorf("orchestrator: issuers, invoices, allocator, registrar, submissions and engine are required")
	}
	if p.Tx == nil {
		p.Tx = NewInMemoryStoreTx()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Orchestrator{
		issuers:     p.Issuers,
		invoices:    p.Invoices,
		allocator:   p.Allocator,
		registrar:   p.Registrar,
		submissions: p.Submissions,
		engine:      p.Engine,
		exporter:    p.Exporter,
		publisher:   p.Publisher,
		tx:          p.Tx,
		metrics:     p.Metrics,
		logger:      p.Logger,
	}, nil
}

// DraftInput is the payload for creating a draft invoice.
type DraftInput struct {
	IssuerNIF    string
	Counterparty models.Counterparty
	IssueDate    time.Time
	DueDate      time.Time
	Lines        []models.InvoiceLine
	Notes        string
}

// CreateDraft validates input against the issuer registry and stores a new
// draft. Totals are computed and frozen at issuance, not here.
func (o *Orchestrator) CreateDraft(ctx context.Context, in DraftInput) (*models.Invoice, error) {
	nif, err := id.ParseIssuerNIF(in.IssuerNIF)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid issuer NIF")
	}
	if _, err := o.issuers.Get(ctx, nif); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	issueDate := in.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}
	inv, err := models.NewDraft(nif, in.Counterparty, issueDate, in.DueDate, in.Lines, now)
	if err != nil {
		return nil, err
	}
	inv.Notes = in.Notes

	if err := o.invoices.Create(ctx, inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store draft")
	}
	return inv, nil
}

// Issue takes a draft through the issuance transaction: tax computation,
// sequence allocation, chain append, submission scheduling, and the issued
// event, all atomic. On success the invoice carries its statutory number.
//
// Tax computation runs before the transaction so the counter row lock is
// held only for the allocate-and-append step.
func (o *Orchestrator) Issue(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	started := time.Now()

	inv, err := o.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, notFoundOrInternal(invoiceID, err)
	}
	if err := inv.CanIssue(); err != nil {
		return nil, err
	}
	if _, err := o.issuers.RequireIssuable(ctx, inv.IssuerNIF); err != nil {
		return nil, err
	}

	breakdown, err := o.engine.Compute(inv)
	if err != nil {
		return nil, err
	}
	inv.Breakdown = breakdown

	fiscalYear := inv.IssueDate.Year()
	now := requestcontext.Now(ctx)

	for attempt := 1; ; attempt++ {
		err = o.tx.RunInTx(ctx, func(txCtx context.Context) error {
			seq, err := o.allocator.Next(txCtx, inv.IssuerNIF, fiscalYear)
			if err != nil {
				return fmt.Errorf("allocate sequence for %s/%d: %w", inv.IssuerNIF, fiscalYear, err)
			}
			inv.ApplyNumbering(fiscalYear, seq, "", now)

			entry, err := o.registrar.Append(txCtx, inv)
			if err != nil {
				return err
			}
			inv.ChainHash = entry.EntryHash

			if err := o.invoices.Save(txCtx, inv); err != nil {
				return fmt.Errorf("persist issued invoice: %w", err)
			}

			rec := models.NewSubmissionRecord(inv.ID, entry, now)
			if err := o.submissions.Create(txCtx, rec); err != nil {
				return fmt.Errorf("schedule authority submission: %w", err)
			}

			return o.publisher.Emit(txCtx, events.TypeInvoiceIssued, "invoice", inv.ID.String(), map[string]any{
				"issuer_nif": inv.IssuerNIF.String(),
				"number":     inv.Number(),
				"total":      inv.Breakdown.Total,
				"chain_hash": inv.ChainHash,
			})
		})
		if err == nil {
			break
		}
		if errors.Is(err, sentinel.ErrConflict) && attempt < issueRetries {
			o.logger.DebugContext(ctx, "issuance serialization conflict, retrying",
				"invoice", inv.ID, "attempt", attempt)
			continue
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "issuance failed")
	}

	if o.metrics != nil {
		o.metrics.InvoiceIssued()
		o.metrics.ObserveIssue(time.Since(started).Seconds())
		if inv.IsRectification() {
			o.metrics.RectificationIssued()
		}
	}
	o.logger.InfoContext(ctx, "invoice issued",
		"invoice", inv.ID, "issuer", inv.IssuerNIF, "number", inv.Number(), "total", inv.Breakdown.Total)
	return inv, nil
}

// Get returns one invoice.
func (o *Orchestrator) Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	inv, err := o.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, notFoundOrInternal(invoiceID, err)
	}
	return inv, nil
}

// List returns the issuer's invoices, newest first.
func (o *Orchestrator) List(ctx context.Context, nif id.IssuerNIF, limit int) ([]*models.Invoice, error) {
	out, err := o.invoices.ListByIssuer(ctx, nif, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list invoices")
	}
	return out, nil
}

// Void cancels an invoice. Drafts void freely; a numbered invoice may be
// voided only while its submission is still pending, since a record the
// authority has seen can only be corrected by rectification.
func (o *Orchestrator) Void(ctx context.Context, invoiceID id.InvoiceID, reason string) (*models.Invoice, error) {
	inv, err := o.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, notFoundOrInternal(invoiceID, err)
	}

	var rec models.SubmissionRecord
	submissionPending := false
	if inv.Status == models.StatusNumbered {
		rec, err = o.submissions.GetByInvoice(ctx, invoiceID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load submission state")
		}
		submissionPending = rec.Status == models.SubmissionPending
	}
	if err := inv.CanVoid(submissionPending); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	err = o.tx.RunInTx(ctx, func(txCtx context.Context) error {
		wasNumbered := inv.Status == models.StatusNumbered
		inv.Status = models.StatusVoided
		if reason != "" {
			inv.Notes = reason
		}
		inv.UpdatedAt = now
		if err := o.invoices.Save(txCtx, inv); err != nil {
			return fmt.Errorf("persist voided invoice: %w", err)
		}

		if wasNumbered {
			// The chain entry stays, append-only; the delivery is parked so
			// the scheduler never dispatches it.
			rec.Status = models.SubmissionCancelled
			rec.LastError = "invoice voided before dispatch"
			rec.NextRetryAt = nil
			rec.UpdatedAt = now
			if err := o.submissions.Save(txCtx, rec); err != nil {
				return fmt.Errorf("cancel scheduled submission: %w", err)
			}
		}

		return o.publisher.Emit(txCtx, events.TypeInvoiceVoided, "invoice", inv.ID.String(), map[string]any{
			"issuer_nif": inv.IssuerNIF.String(),
			"number":     inv.Number(),
			"reason":     reason,
		})
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "void failed")
	}

	if o.metrics != nil {
		o.metrics.InvoiceVoided()
	}
	o.logger.InfoContext(ctx, "invoice voided", "invoice", inv.ID, "number", inv.Number(), "reason", reason)
	return inv, nil
}

// RectifyInput shapes a correcting invoice. With no lines given the credit
// note reverses the original in full.
type RectifyInput struct {
	Lines  []models.InvoiceLine
	Reason string
}

// Rectify issues a correcting invoice against a registered original. The
// rectification is a first-class invoice: it gets its own number, chain
// entry, and authority submission.
func (o *Orchestrator) Rectify(ctx context.Context, originalID id.InvoiceID, in RectifyInput) (*models.Invoice, error) {
	original, err := o.invoices.Get(ctx, originalID)
	if err != nil {
		return nil, notFoundOrInternal(originalID, err)
	}
	switch original.Status {
	case models.StatusAcknowledged, models.StatusExported, models.StatusRejected, models.StatusSubmitted:
	default:
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"invoice %s is %s; only invoices sent to the authority can be rectified", originalID, original.Status)
	}

	lines := in.Lines
	if len(lines) == 0 {
		lines = reversalLines(original.Lines)
	}

	now := requestcontext.Now(ctx)
	rectifying, err := models.NewDraft(original.IssuerNIF, original.Counterparty, now, time.Time{}, lines, now)
	if err != nil {
		return nil, err
	}
	rectifying.Rectifies = &original.ID
	rectifying.RectifiesNumber = original.Number()
	rectifying.Notes = in.Reason

	if err := o.invoices.Create(ctx, rectifying); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store rectification draft")
	}
	return o.Issue(ctx, rectifying.ID)
}

// reversalLines negates the original's unit prices, so the credit note's
// totals mirror the original with opposite sign.
func reversalLines(original []models.InvoiceLine) []models.InvoiceLine {
	out := make([]models.InvoiceLine, len(original))
	for i, line := range original {
		out[i] = models.InvoiceLine{
			ServiceCode: line.ServiceCode,
			Description: "Rectificación: " + line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.Neg(),
			DiscountPct: line.DiscountPct,
			RateClass:   line.RateClass,
		}
	}
	return out
}

// Export writes the Facturae document for a registered invoice and records
// its path. Callable repeatedly; the second call reuses the existing file.
func (o *Orchestrator) Export(ctx context.Context, invoiceID id.InvoiceID) (string, error) {
	if o.exporter == nil {
		return "", dErrors.New(dErrors.CodeUnprocessable, "facturae export is not configured")
	}
	inv, err := o.invoices.Get(ctx, invoiceID)
	if err != nil {
		return "", notFoundOrInternal(invoiceID, err)
	}
	iss, err := o.issuers.Get(ctx, inv.IssuerNIF)
	if err != nil {
		return "", err
	}

	path, err := o.exporter.Export(ctx, inv, sellerFromIssuer(iss))
	if err != nil {
		var validationErr *facturae.ExportValidationError
		if errors.As(err, &validationErr) {
			return "", dErrors.New(dErrors.CodeInvariantViolation, validationErr.Error())
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "facturae export failed")
	}

	if inv.FacturaePath != path || inv.Status != models.StatusExported {
		inv.FacturaePath = path
		if inv.Status == models.StatusAcknowledged {
			inv.Status = models.StatusExported
		}
		inv.UpdatedAt = requestcontext.Now(ctx)
		if err := o.invoices.Save(ctx, inv); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record export path")
		}
		if err := o.publisher.Emit(ctx, events.TypeInvoiceExported, "invoice", inv.ID.String(), map[string]any{
			"number": inv.Number(),
			"path":   path,
		}); err != nil {
			return "", err
		}
		if o.metrics != nil {
			o.metrics.ExportWritten()
		}
	}
	return path, nil
}

// OnAcknowledged runs after the authority accepted a registration: export
// the Facturae document (when configured) and emit the event. Wired as a
// submission coordinator hook.
func (o *Orchestrator) OnAcknowledged(ctx context.Context, inv *models.Invoice) {
	if err := o.publisher.Emit(ctx, events.TypeInvoiceAcknowledged, "invoice", inv.ID.String(), map[string]any{
		"number":        inv.Number(),
		"authority_ref": inv.AuthorityRef,
	}); err != nil {
		o.logger.ErrorContext(ctx, "emit acknowledged event failed", "invoice", inv.ID, "err", err)
	}
	if o.exporter == nil {
		return
	}
	if _, err := o.Export(ctx, inv.ID); err != nil {
		// Export retries on the next explicit request; acknowledgement stands.
		o.logger.ErrorContext(ctx, "post-acknowledgement export failed", "invoice", inv.ID, "err", err)
	}
}

// OnRejected emits the rejection event. Wired as a submission coordinator
// hook.
func (o *Orchestrator) OnRejected(ctx context.Context, inv *models.Invoice, receipt submission.Receipt) {
	if err := o.publisher.Emit(ctx, events.TypeInvoiceRejected, "invoice", inv.ID.String(), map[string]any{
		"number":     inv.Number(),
		"error_code": receipt.ErrorCode,
		"message":    receipt.Message,
	}); err != nil {
		o.logger.ErrorContext(ctx, "emit rejected event failed", "invoice", inv.ID, "err", err)
	}
}

// VerifyChain replays the issuer's chain against stored invoices. A broken
// chain halts the issuer until an operator resumes it.
func (o *Orchestrator) VerifyChain(ctx context.Context, nif id.IssuerNIF) error {
	if _, err := o.issuers.Get(ctx, nif); err != nil {
		return err
	}
	resolve := func(ctx context.Context, issuerNIF id.IssuerNIF, fiscalYear int, seq int64) (string, error) {
		inv, err := o.invoices.GetByNumber(ctx, issuerNIF, fiscalYear, seq)
		if err != nil {
			return "", err
		}
		return chain.ContentHash(inv), nil
	}

	err := o.registrar.Verify(ctx, nif, resolve)
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrChainBroken) {
		if o.metrics != nil {
			o.metrics.ChainVerificationFailed()
		}
		if _, haltErr := o.issuers.Halt(ctx, nif, err.Error()); haltErr != nil &&
			!dErrors.HasCode(haltErr, dErrors.CodeConflict) {
			o.logger.ErrorContext(ctx, "failed to halt issuer after chain failure", "issuer", nif, "err", haltErr)
		}
		if emitErr := o.publisher.Emit(ctx, events.TypeIssuerHalted, "issuer", nif.String(), map[string]any{
			"reason": err.Error(),
		}); emitErr != nil {
			o.logger.ErrorContext(ctx, "emit issuer halted event failed", "issuer", nif, "err", emitErr)
		}
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "chain verification failed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "chain verification errored")
}

// Stats aggregates invoice and submission counts for the overview endpoint.
type Stats struct {
	Invoices    store.Stats                       `json:"invoices"`
	Submissions map[models.SubmissionStatus]int64 `json:"submissions"`
}

// Stats returns pipeline counts.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	invoiceStats, err := o.invoices.Stats(ctx)
	if err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "invoice stats failed")
	}
	submissionStats, err := o.submissions.CountByStatus(ctx)
	if err != nil {
		return Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "submission stats failed")
	}
	return Stats{Invoices: invoiceStats, Submissions: submissionStats}, nil
}

func notFoundOrInternal(invoiceID id.InvoiceID, err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Newf(dErrors.CodeNotFound, "invoice %s not found", invoiceID)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
}

func sellerFromIssuer(iss *issuer.Issuer) facturae.Seller {
	return facturae.Seller{
		NIF:         iss.NIF.String(),
		Name:        iss.LegalName,
		Address:     iss.Address,
		PostCode:    iss.PostCode,
		Town:        iss.Town,
		Province:    iss.Province,
		CountryCode: iss.Country,
	}
}
