// Package handler exposes the invoice lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"facturador/internal/billing/models"
	"facturador/internal/billing/service"
	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
	"facturador/pkg/platform/httputil"
	"facturador/pkg/requestcontext"
)

// Service defines the invoice operations the handler exposes.
type Service interface {
	CreateDraft(ctx context.Context, in service.DraftInput) (*models.Invoice, error)
	Issue(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	List(ctx context.Context, issuer id.IssuerNIF, limit int) ([]*models.Invoice, error)
	Void(ctx context.Context, invoiceID id.InvoiceID, reason string) (*models.Invoice, error)
	Rectify(ctx context.Context, originalID id.InvoiceID, in service.RectifyInput) (*models.Invoice, error)
	Export(ctx context.Context, invoiceID id.InvoiceID) (string, error)
	Stats(ctx context.Context) (service.Stats, error)
}

// Resubmitter requeues a failed authority submission.
type Resubmitter interface {
	Resubmit(ctx context.Context, invoiceID id.InvoiceID) error
}

const defaultListLimit = 50

// Handler wires billing endpoints to the orchestrator.
type Handler struct {
	service     Service
	resubmitter Resubmitter
	logger      *slog.Logger
}

// New constructs a billing handler with its dependencies.
func New(service Service, resubmitter Resubmitter, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		resubmitter: resubmitter,
		logger:      logger,
	}
}

// Register mounts billing endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Post("/invoices", h.handleCreate)
		r.Get("/invoices", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Route("/invoices/{invoiceID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/issue", h.handleIssue)
			r.Post("/void", h.handleVoid)
			r.Post("/rectify", h.handleRectify)
			r.Post("/export", h.handleExport)
			r.Post("/resubmit", h.handleResubmit)
		})
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[CreateInvoiceRequest](w, r, h.logger)
	if !ok {
		return
	}
	in, err := req.ToInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	inv, err := h.service.CreateDraft(ctx, in)
	if err != nil {
		h.logger.WarnContext(ctx, "draft creation refused",
			"request_id", requestcontext.RequestID(ctx),
			"issuer", req.IssuerNIF,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromInvoice(inv))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.Get(r.Context(), invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromInvoice(inv))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	nif, err := id.ParseIssuerNIF(r.URL.Query().Get("issuer"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "issuer query parameter must be a valid NIF"))
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	invs, err := h.service.List(r.Context(), nif, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromInvoices(invs))
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	start := time.Now()

	inv, err := h.service.Issue(ctx, invoiceID)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance refused",
			"request_id", requestcontext.RequestID(ctx),
			"invoice", invoiceID,
			"actor", requestcontext.Actor(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "invoice issued via API",
		"request_id", requestcontext.RequestID(ctx),
		"invoice", inv.ID,
		"number", inv.Number(),
		"actor", requestcontext.Actor(ctx),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, fromInvoice(inv))
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[VoidInvoiceRequest](w, r, h.logger)
	if !ok {
		return
	}

	inv, err := h.service.Void(ctx, invoiceID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromInvoice(inv))
}

func (h *Handler) handleRectify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[RectifyInvoiceRequest](w, r, h.logger)
	if !ok {
		return
	}

	inv, err := h.service.Rectify(ctx, invoiceID, req.ToInput())
	if err != nil {
		h.logger.WarnContext(ctx, "rectification refused",
			"request_id", requestcontext.RequestID(ctx),
			"invoice", invoiceID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromInvoice(inv))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	path, err := h.service.Export(r.Context(), invoiceID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ExportResponse{Path: path})
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := h.invoiceID(w, r)
	if !ok {
		return
	}
	if h.resubmitter == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnprocessable, "submission coordinator is not configured"))
		return
	}
	if err := h.resubmitter.Resubmit(r.Context(), invoiceID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) invoiceID(w http.ResponseWriter, r *http.Request) (id.InvoiceID, bool) {
	invoiceID, err := id.ParseInvoiceID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid invoice id"))
		return id.InvoiceID{}, false
	}
	return invoiceID, true
}
