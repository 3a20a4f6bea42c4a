package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"facturador/internal/issuer"
	"facturador/pkg/platform/middleware/admin"
)

const adminToken = "operator-secret"

func newIssuerRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := issuer.NewService(issuer.NewInMemory(), logger)

	h := New(svc, nil, logger)
	r := chi.NewRouter()
	r.Use(admin.RequireAdminToken(adminToken, logger))
	h.Register(r)
	return r
}

func adminJSON(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", adminToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminTokenRequired(t *testing.T) {
	router := newIssuerRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/issuers", nil)
	// No admin token header set
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterAndFetchIssuer(t *testing.T) {
	router := newIssuerRouter(t)

	rec := adminJSON(t, router, http.MethodPost, "/admin/issuers", map[string]string{
		"nif":        "B12345678",
		"legal_name": "Clinica Delgado SL",
		"town":       "Madrid",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodGet, "/admin/issuers/B12345678", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		NIF       string `json:"nif"`
		LegalName string `json:"legal_name"`
		Active    bool   `json:"active"`
		Halted    bool   `json:"halted"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "B12345678", got.NIF)
	require.Equal(t, "Clinica Delgado SL", got.LegalName)
	require.True(t, got.Active)
	require.False(t, got.Halted)
}

func TestRegisterRejectsMalformedNIF(t *testing.T) {
	router := newIssuerRouter(t)

	rec := adminJSON(t, router, http.MethodPost, "/admin/issuers", map[string]string{
		"nif":        "nonsense",
		"legal_name": "Bad Co",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHaltAndResumeViaHandlers(t *testing.T) {
	router := newIssuerRouter(t)

	rec := adminJSON(t, router, http.MethodPost, "/admin/issuers", map[string]string{
		"nif":        "B12345678",
		"legal_name": "Clinica Delgado SL",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/admin/issuers/B12345678/halt", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/admin/issuers/B12345678/halt",
		map[string]string{"reason": "quarterly audit"})
	require.Equal(t, http.StatusOK, rec.Code)

	var halted struct {
		Halted     bool   `json:"halted"`
		HaltReason string `json:"halt_reason"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&halted))
	require.True(t, halted.Halted)
	require.Equal(t, "quarterly audit", halted.HaltReason)

	rec = adminJSON(t, router, http.MethodPost, "/admin/issuers/B12345678/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resumed struct {
		Halted bool `json:"halted"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resumed))
	require.False(t, resumed.Halted)
}

func TestVerifyChainWithoutVerifier(t *testing.T) {
	router := newIssuerRouter(t)

	rec := adminJSON(t, router, http.MethodPost, "/admin/issuers", map[string]string{
		"nif":        "B12345678",
		"legal_name": "Clinica Delgado SL",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/admin/issuers/B12345678/chain/verify", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
