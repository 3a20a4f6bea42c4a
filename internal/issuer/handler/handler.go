// Package handler exposes issuer registry management over HTTP. These are
// operator endpoints and sit behind the admin token.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"facturador/internal/issuer"
	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
	"facturador/pkg/platform/httputil"
	"facturador/pkg/requestcontext"
)

// Service defines the issuer registry operations the handler exposes.
type Service interface {
	Register(ctx context.Context, in issuer.RegisterInput) (*issuer.Issuer, error)
	Get(ctx context.Context, nif id.IssuerNIF) (*issuer.Issuer, error)
	List(ctx context.Context) ([]*issuer.Issuer, error)
	Halt(ctx context.Context, nif id.IssuerNIF, reason string) (*issuer.Issuer, error)
	Resume(ctx context.Context, nif id.IssuerNIF) (*issuer.Issuer, error)
	Deactivate(ctx context.Context, nif id.IssuerNIF) (*issuer.Issuer, error)
}

// ChainVerifier checks an issuer's registration chain end to end.
type ChainVerifier interface {
	VerifyChain(ctx context.Context, nif id.IssuerNIF) error
}

// Handler wires issuer registry endpoints to the issuer service.
type Handler struct {
	service  Service
	verifier ChainVerifier
	logger   *slog.Logger
}

// New constructs an issuer handler with its dependencies.
func New(service Service, verifier ChainVerifier, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
		logger:   logger,
	}
}

// Register mounts issuer registry endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/issuers", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/", h.handleList)
		r.Route("/{nif}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/halt", h.handleHalt)
			r.Post("/resume", h.handleResume)
			r.Post("/deactivate", h.handleDeactivate)
			r.Post("/chain/verify", h.handleVerifyChain)
		})
	})
}

// RegisterIssuerRequest is the payload for POST /admin/issuers.
type RegisterIssuerRequest struct {
	NIF       string `json:"nif"`
	LegalName string `json:"legal_name"`
	TradeName string `json:"trade_name,omitempty"`
	Address   string `json:"address,omitempty"`
	PostCode  string `json:"post_code,omitempty"`
	Town      string `json:"town,omitempty"`
	Province  string `json:"province,omitempty"`
}

// HaltIssuerRequest is the payload for POST /admin/issuers/{nif}/halt.
type HaltIssuerRequest struct {
	Reason string `json:"reason"`
}

// VerifyChainResponse reports the outcome of a chain verification.
type VerifyChainResponse struct {
	Intact bool   `json:"intact"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[RegisterIssuerRequest](w, r, h.logger)
	if !ok {
		return
	}

	iss, err := h.service.Register(ctx, issuer.RegisterInput{
		NIF:       req.NIF,
		LegalName: req.LegalName,
		TradeName: req.TradeName,
		Address:   req.Address,
		PostCode:  req.PostCode,
		Town:      req.Town,
		Province:  req.Province,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "issuer registration refused",
			"request_id", requestcontext.RequestID(ctx),
			"nif", req.NIF,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, iss)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	issuers, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issuers)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	nif, ok := h.nif(w, r)
	if !ok {
		return
	}
	iss, err := h.service.Get(r.Context(), nif)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, iss)
}

func (h *Handler) handleHalt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nif, ok := h.nif(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[HaltIssuerRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "halt requires a reason"))
		return
	}

	iss, err := h.service.Halt(ctx, nif, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "issuer halted by operator",
		"request_id", requestcontext.RequestID(ctx),
		"nif", nif,
		"reason", req.Reason,
	)
	httputil.WriteJSON(w, http.StatusOK, iss)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	nif, ok := h.nif(w, r)
	if !ok {
		return
	}
	iss, err := h.service.Resume(r.Context(), nif)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, iss)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	nif, ok := h.nif(w, r)
	if !ok {
		return
	}
	iss, err := h.service.Deactivate(r.Context(), nif)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, iss)
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nif, ok := h.nif(w, r)
	if !ok {
		return
	}
	if h.verifier == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnprocessable, "chain verifier is not configured"))
		return
	}

	err := h.verifier.VerifyChain(ctx, nif)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, VerifyChainResponse{Intact: true})
	case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		// The verifier has already halted the issuer; report the break rather
		// than a generic error so operators see what failed.
		httputil.WriteJSON(w, http.StatusOK, VerifyChainResponse{
			Intact: false,
			Detail: dErrors.MessageOf(err),
		})
	default:
		httputil.WriteError(w, err)
	}
}

func (h *Handler) nif(w http.ResponseWriter, r *http.Request) (id.IssuerNIF, bool) {
	nif, err := id.ParseIssuerNIF(chi.URLParam(r, "nif"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid issuer NIF"))
		return "", false
	}
	return nif, true
}
