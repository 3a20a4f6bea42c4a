package httptransport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"facturador/internal/billing/chain"
	billinghandler "facturador/internal/billing/handler"
	"facturador/internal/billing/sequence"
	"facturador/internal/billing/service"
	"facturador/internal/billing/store"
	"facturador/internal/billing/submission"
	"facturador/internal/billing/tax"
	"facturador/internal/events"
	"facturador/internal/issuer"
	issuerhandler "facturador/internal/issuer/handler"
	jwttoken "facturador/internal/jwt_token"
)

func newTestRouter(t *testing.T) (http.Handler, *jwttoken.Service) {
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

	tokens := jwttoken.NewService("test-signing-key", "facturador-test")
	router := NewRouter(RouterParams{
		Billing:    billinghandler.New(orch, nil, logger),
		Issuers:    issuerhandler.New(issuers, orch, logger),
		Validator:  jwttoken.NewServiceAdapter(tokens),
		AdminToken: "operator-secret",
		Registry:   prometheus.NewRegistry(),
		Logger:     logger,
	})
	return router, tokens
}

func TestHealthzIsOpen(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsIsOpen(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBillingRequiresBearerToken(t *testing.T) {
	router, tokens := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/billing/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/billing/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := tokens.Generate("ops@example.com", "facturactl", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/billing/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	router, tokens := newTestRouter(t)

	token, err := tokens.Generate("ops@example.com", "facturactl", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/billing/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesIgnoreBearerToken(t *testing.T) {
	router, tokens := newTestRouter(t)

	token, err := tokens.Generate("ops@example.com", "facturactl", time.Hour)
	require.NoError(t, err)

	// A bearer token does not open the operator surface.
	req := httptest.NewRequest(http.MethodGet, "/admin/issuers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/issuers", nil)
	req.Header.Set("X-Admin-Token", "operator-secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
