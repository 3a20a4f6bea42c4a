package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Issuance requests can hold a row lock while the
// authority round-trip happens elsewhere, so write timeouts stay generous;
// the header timeout still bounds slowloris-style clients.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
