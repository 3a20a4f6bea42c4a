package submission

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"facturador/internal/platform/config"
	"facturador/pkg/platform/circuit"
	"facturador/pkg/platform/sentinel"
	"facturador/pkg/platform/tracing"
)

// RegistrationRecord is the structured record submitted to the authority for
// one chain entry. The wire schema follows the generic structured-record
// contract: issuer identification, invoice number, totals, and both hashes.
type RegistrationRecord struct {
	IssuerNIF      string `json:"issuer_nif"`
	IssuerName     string `json:"issuer_name"`
	InvoiceNumber  string `json:"invoice_number"`
	IssueDate      string `json:"issue_date"`
	Base           string `json:"base"`
	Tax            string `json:"tax"`
	Total          string `json:"total"`
	ContentHash    string `json:"content_hash"`
	PreviousHash   string `json:"previous_hash"`
	IdempotencyKey string `json:"idempotency_key"`
	TestMode       bool   `json:"test_mode"`
}

// Receipt is the authority's answer to a registration.
type Receipt struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AuthorityClient submits registration records.
//
// Error contract: a returned error means delivery is uncertain (network,
// timeout, 5xx) and the record must be retried. A nil error with
// Accepted=false is a definitive rejection and must not be retried.
type AuthorityClient interface {
	Submit(ctx context.Context, rec RegistrationRecord) (Receipt, error)
}

// HTTPClient talks to the AEAT endpoint over mutual-TLS HTTPS. The endpoint
// (production or sandbox) comes from configuration; retries always present
// the same idempotency key so the authority deduplicates redeliveries.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	tracer   trace.Tracer
	breaker  *circuit.Breaker
}

// NewHTTPClient builds the authority client from configuration. A client
// certificate is loaded when configured; the sandbox accepts anonymous TLS.
func NewHTTPClient(cfg config.Verifactu) (*HTTPClient, error) {
	transport := &http.Transport{}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load authority client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	return &HTTPClient{
		endpoint: cfg.URL(),
		client: tracing.WrapHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		}),
		tracer: otel.Tracer("facturador/submission"),
		breaker: circuit.New("authority",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2)),
	}, nil
}

// Submit POSTs the record and interprets the response per the error contract.
func (c *HTTPClient) Submit(ctx context.Context, rec RegistrationRecord) (Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "authority.submit",
		trace.WithAttributes(
			attribute.String("invoice.number", rec.InvoiceNumber),
			attribute.String("idempotency.key", rec.IdempotencyKey),
		))
	defer span.End()

	if !c.breaker.Allow() {
		span.SetStatus(codes.Error, "circuit open")
		return Receipt{}, fmt.Errorf("authority circuit open: %w", sentinel.ErrUnavailable)
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode registration record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build authority request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.IdempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		span.SetStatus(codes.Error, "transport failure")
		return Receipt{}, fmt.Errorf("submit to authority: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		span.SetStatus(codes.Error, resp.Status)
		return Receipt{}, fmt.Errorf("authority returned %s: %w", resp.Status, sentinel.ErrUnavailable)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		c.breaker.RecordFailure()
		span.SetStatus(codes.Error, "undecodable response")
		return Receipt{}, fmt.Errorf("decode authority response: %w: %w", sentinel.ErrUnavailable, err)
	}

	// Any decodable answer, acceptance or rejection, counts as a healthy
	// endpoint.
	c.breaker.RecordSuccess()
	span.SetAttributes(attribute.Bool("authority.accepted", receipt.Accepted))
	return receipt, nil
}

// submitTimeout bounds one dispatch even when the caller passes a background
// context, so a hung authority connection cannot wedge the scheduler.
const submitTimeout = 2 * time.Minute
