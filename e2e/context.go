// Package e2e drives a running facturador instance over HTTP. The suite
// expects the server, its database, and the authority mock to be up already;
// FACTURADOR_E2E_URL, FACTURADOR_E2E_TOKEN and FACTURADOR_E2E_ADMIN_TOKEN
// point it at them.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// TestContext carries request state across steps of one scenario.
type TestContext struct {
	baseURL    string
	token      string
	adminToken string
	client     *http.Client

	lastStatus int
	lastBody   []byte

	invoiceID string
	issuerNIF string
}

// NewTestContext reads the target endpoint from the environment.
func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    getenv("FACTURADOR_E2E_URL", "http://localhost:8080"),
		token:      os.Getenv("FACTURADOR_E2E_TOKEN"),
		adminToken: os.Getenv("FACTURADOR_E2E_ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.invoiceID = ""
	tc.issuerNIF = ""
}

// POST sends an authenticated JSON request.
func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, map[string]string{
		"Authorization": "Bearer " + tc.token,
	})
}

// GET sends an authenticated request.
func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, map[string]string{
		"Authorization": "Bearer " + tc.token,
	})
}

// AdminPOST sends a request with the operator token.
func (tc *TestContext) AdminPOST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, map[string]string{
		"X-Admin-Token": tc.adminToken,
	})
}

// AdminGET fetches with the operator token.
func (tc *TestContext) AdminGET(path string) error {
	return tc.do(http.MethodGet, path, nil, map[string]string{
		"X-Admin-Token": tc.adminToken,
	})
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// LastStatus returns the status code of the previous request.
func (tc *TestContext) LastStatus() int { return tc.lastStatus }

// ResponseField digs a dotted path out of the previous JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var doc map[string]any
	if err := json.Unmarshal(tc.lastBody, &doc); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w (body %q)", err, tc.lastBody)
	}
	v, ok := doc[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response (body %q)", field, tc.lastBody)
	}
	return v, nil
}

// SetInvoiceID remembers the invoice under test.
func (tc *TestContext) SetInvoiceID(id string) { tc.invoiceID = id }

// InvoiceID returns the invoice under test.
func (tc *TestContext) InvoiceID() string { return tc.invoiceID }

// SetIssuerNIF remembers the issuer under test.
func (tc *TestContext) SetIssuerNIF(nif string) { tc.issuerNIF = nif }

// IssuerNIF returns the issuer under test.
func (tc *TestContext) IssuerNIF() string { return tc.issuerNIF }

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
