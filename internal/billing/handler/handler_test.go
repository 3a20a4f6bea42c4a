package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
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
)

func newBillingRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	issuers := issuer.NewService(issuer.NewInMemory(), logger)
	orch, err := service.New(service.Params{
		Issuers:     issuers,
		Invoices:    store.NewInMemory(),
		Allocator:   sequence.NewInMemory(),
		Registrar:   chain.NewRegistrar(chain.NewInMemory()),
		Submissions: submission.NewInMemory(),
		Engine:      tax.NewEngine(tax.StatutoryRates()),
		Publisher:   events.NewPublisher(events.NewInMemory()),
		Logger:      logger,
	})
	require.NoError(t, err)

	_, err = issuers.Register(context.Background(), issuer.RegisterInput{
		NIF:       "B12345678",
		LegalName: "Clinica Delgado SL",
	})
	require.NoError(t, err)

	h := New(orch, nil, logger)
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func createPayload() map[string]any {
	return map[string]any{
		"issuer_nif": "B12345678",
		"counterparty": map[string]any{
			"nif":  "12345678Z",
			"name": "Juan Perez",
		},
		"issue_date": "2026-03-10",
		"lines": []map[string]any{{
			"description": "Consulta de nutrición",
			"quantity":    1,
			"unit_price":  "100.00",
			"rate_class":  "GENERAL",
		}},
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndIssueViaHandlers(t *testing.T) {
	router := newBillingRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/billing/invoices", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID     id.InvoiceID `json:"id"`
		Status string       `json:"status"`
		Number string       `json:"number"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.False(t, created.ID.IsNil())
	require.Equal(t, "DRAFT", created.Status)
	require.Empty(t, created.Number)

	rec = doJSON(t, router, http.MethodPost, "/billing/invoices/"+created.ID.String()+"/issue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var issued struct {
		Status    string `json:"status"`
		Number    string `json:"number"`
		ChainHash string `json:"chain_hash"`
		IssueDate string `json:"issue_date"`
		Breakdown struct {
			Total string `json:"total"`
		} `json:"breakdown"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	require.Equal(t, "NUMBERED", issued.Status)
	require.Equal(t, "2026/00000001", issued.Number)
	require.Len(t, issued.ChainHash, 64)
	require.Equal(t, "121", issued.Breakdown.Total)

	parsed, err := time.Parse(time.RFC3339, issued.IssueDate)
	require.NoError(t, err)
	require.Equal(t, 2026, parsed.Year())
}

func TestCreateRejectsUnknownIssuer(t *testing.T) {
	router := newBillingRouter(t)

	payload := createPayload()
	payload["issuer_nif"] = "B99999999"
	rec := doJSON(t, router, http.MethodPost, "/billing/invoices", payload)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRejectsMalformedDate(t *testing.T) {
	router := newBillingRouter(t)

	payload := createPayload()
	payload["issue_date"] = "10/03/2026"
	rec := doJSON(t, router, http.MethodPost, "/billing/invoices", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	require.Equal(t, "bad_request", errResp.Error)
	require.Contains(t, errResp.ErrorDescription, "issue_date")
}

func TestVoidAfterIssueViaHandlers(t *testing.T) {
	router := newBillingRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/billing/invoices", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID id.InvoiceID `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = doJSON(t, router, http.MethodPost, "/billing/invoices/"+created.ID.String()+"/issue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/billing/invoices/"+created.ID.String()+"/void",
		map[string]string{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code)

	var voided struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&voided))
	require.Equal(t, string(models.StatusVoided), voided.Status)
}

func TestListRequiresIssuerParam(t *testing.T) {
	router := newBillingRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/billing/invoices", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/billing/invoices?issuer=B12345678", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUnknownInvoice(t *testing.T) {
	router := newBillingRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/billing/invoices/"+id.NewInvoiceID().String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/billing/invoices/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsViaHandlers(t *testing.T) {
	router := newBillingRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/billing/invoices", createPayload())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/billing/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Invoices struct {
			ByStatus map[string]int64 `json:"by_status"`
		} `json:"invoices"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, int64(1), stats.Invoices.ByStatus["DRAFT"])
}
