// verifactu-mock is a stand-in for the AEAT registration endpoint, used in
// local development and the e2e suite. It stores seen idempotency keys in
// memory and answers duplicates with the original receipt, which is what the
// retry path depends on.
//
// Usage:
//
//	go run . -addr :9443 -fail-every 0
//
// -fail-every N makes every Nth submission return a 503, so retry and
// circuit-breaker behavior can be exercised locally.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
)

type record struct {
	IssuerNIF      string `json:"issuer_nif"`
	InvoiceNumber  string `json:"invoice_number"`
	Total          string `json:"total"`
	ContentHash    string `json:"content_hash"`
	PreviousHash   string `json:"previous_hash"`
	IdempotencyKey string `json:"idempotency_key"`
}

type receipt struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type server struct {
	mu        sync.Mutex
	seen      map[string]receipt
	count     int
	failEvery int
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, receipt{ErrorCode: "MALFORMED", Message: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	if s.failEvery > 0 && s.count%s.failEvery == 0 {
		log.Printf("injected failure for %s", rec.IdempotencyKey)
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	if prev, ok := s.seen[rec.IdempotencyKey]; ok {
		log.Printf("duplicate submission %s, replaying receipt %s", rec.IdempotencyKey, prev.Reference)
		writeJSON(w, http.StatusOK, prev)
		return
	}

	resp := validate(rec)
	if resp.Accepted {
		resp.Reference = fmt.Sprintf("CSV-%08d", len(s.seen)+1)
	}
	s.seen[rec.IdempotencyKey] = resp
	log.Printf("registered %s accepted=%v ref=%s", rec.InvoiceNumber, resp.Accepted, resp.Reference)
	writeJSON(w, http.StatusOK, resp)
}

// validate applies the checks the real endpoint would: issuer identified,
// hashes present, chain linkage stated.
func validate(rec record) receipt {
	switch {
	case rec.IssuerNIF == "":
		return receipt{ErrorCode: "NO_ISSUER", Message: "issuer NIF is required"}
	case rec.IdempotencyKey == "":
		return receipt{ErrorCode: "NO_KEY", Message: "idempotency key is required"}
	case rec.ContentHash == "" || rec.PreviousHash == "":
		return receipt{ErrorCode: "NO_HASH", Message: "content and previous hashes are required"}
	case strings.HasPrefix(rec.Total, "--"):
		return receipt{ErrorCode: "BAD_TOTAL", Message: "malformed total"}
	}
	return receipt{Accepted: true}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":9443", "listen address")
	failEvery := flag.Int("fail-every", 0, "return 503 for every Nth submission (0 disables)")
	flag.Parse()

	s := &server{seen: make(map[string]receipt), failEvery: *failEvery}

	mux := http.NewServeMux()
	mux.HandleFunc("/registration", s.register)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	log.Printf("verifactu mock listening on %s (fail-every=%d)", *addr, *failEvery)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
