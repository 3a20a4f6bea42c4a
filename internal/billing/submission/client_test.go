package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"facturador/internal/platform/config"
	"facturador/pkg/platform/sentinel"
)

func newTestClient(t *testing.T, endpoint string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(config.Verifactu{
		Endpoint: endpoint,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func testRecord() RegistrationRecord {
	return RegistrationRecord{
		IssuerNIF:      "B12345678",
		IssuerName:     "Clinica Delgado SL",
		InvoiceNumber:  "2026/00000001",
		IssueDate:      "2026-03-10",
		Base:           "100.00",
		Tax:            "21.00",
		Total:          "121.00",
		ContentHash:    "aa",
		PreviousHash:   "bb",
		IdempotencyKey: "B12345678-2026-00000001",
	}
}

func TestSubmitAcceptedReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "B12345678-2026-00000001", r.Header.Get("Idempotency-Key"))
		var rec RegistrationRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		require.Equal(t, "2026/00000001", rec.InvoiceNumber)
		json.NewEncoder(w).Encode(Receipt{Accepted: true, Reference: "CSV-123"})
	}))
	defer srv.Close()

	receipt, err := newTestClient(t, srv.URL).Submit(context.Background(), testRecord())
	require.NoError(t, err)
	require.True(t, receipt.Accepted)
	require.Equal(t, "CSV-123", receipt.Reference)
}

func TestSubmitRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(Receipt{Accepted: false, ErrorCode: "DUP", Message: "duplicate record"})
	}))
	defer srv.Close()

	receipt, err := newTestClient(t, srv.URL).Submit(context.Background(), testRecord())
	require.NoError(t, err, "a definitive rejection is a delivered answer")
	require.False(t, receipt.Accepted)
	require.Equal(t, "DUP", receipt.ErrorCode)
}

func TestSubmitServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Submit(context.Background(), testRecord())
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestSubmitCircuitOpensAfterSustainedOutage(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := client.Submit(context.Background(), testRecord())
		require.ErrorIs(t, err, sentinel.ErrUnavailable)
	}
	require.EqualValues(t, 5, hits.Load())

	// The breaker is open now: further submits fail fast without a call.
	_, err := client.Submit(context.Background(), testRecord())
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
	require.EqualValues(t, 5, hits.Load())
}
