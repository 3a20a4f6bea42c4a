// Package httptransport assembles the service's HTTP surface: the
// authenticated billing API, the admin registry endpoints, and the
// operational probes.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	billinghandler "facturador/internal/billing/handler"
	issuerhandler "facturador/internal/issuer/handler"
	"facturador/internal/ratelimit"
	"facturador/pkg/platform/middleware/admin"
	"facturador/pkg/platform/middleware/auth"
	"facturador/pkg/platform/middleware/metadata"
	"facturador/pkg/platform/middleware/requestid"
	"facturador/pkg/platform/middleware/requesttime"
	"facturador/pkg/platform/tracing"
)

// RouterParams collects everything the router mounts.
type RouterParams struct {
	Billing    *billinghandler.Handler
	Issuers    *issuerhandler.Handler
	Validator  auth.TokenValidator
	AdminToken string
	RateLimit  *ratelimit.Middleware
	Registry   *prometheus.Registry
	Logger     *slog.Logger
}

// NewRouter builds the full application router. Billing routes require a
// bearer token; admin routes require the operator token; probes are open.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(tracing.Middleware)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	if p.Billing != nil {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(p.Validator, p.Logger))
			if p.RateLimit != nil {
				r.Use(p.RateLimit.Handler)
			}
			p.Billing.Register(r)
		})
	}

	if p.Issuers != nil {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(p.AdminToken, p.Logger))
			p.Issuers.Register(r)
		})
	}

	return r
}
