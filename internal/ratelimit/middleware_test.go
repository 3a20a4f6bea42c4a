package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facturador/pkg/requestcontext"
	"facturador/pkg/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareCapsPerActor(t *testing.T) {
	mw := NewMiddleware(NewInMemory(), 2, time.Minute, testutil.DiscardLogger())
	handler := mw.Handler(okHandler())

	do := func(actor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/billing/invoices?issuer=B12345678", nil)
		req = req.WithContext(requestcontext.WithActor(req.Context(), actor))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	rr := do("ops@clinica")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", rr.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusOK, do("ops@clinica").Code)

	rr = do("ops@clinica")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	require.Equal(t, "rate_limit_exceeded", (*body)["error"])

	// A different actor still gets through.
	require.Equal(t, http.StatusOK, do("admin@clinica").Code)
}

func TestMiddlewareFallsBackToClientIP(t *testing.T) {
	mw := NewMiddleware(NewInMemory(), 1, time.Minute, testutil.DiscardLogger())
	handler := mw.Handler(okHandler())

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/billing/stats", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusOK, do().Code)
	require.Equal(t, http.StatusTooManyRequests, do().Code)
}

func TestMiddlewareDisabledByZeroLimit(t *testing.T) {
	mw := NewMiddleware(NewInMemory(), 0, time.Minute, testutil.DiscardLogger())
	handler := mw.Handler(okHandler())

	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/billing/stats", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
}
