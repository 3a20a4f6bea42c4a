// Package requestid assigns each request a correlation ID. Incoming
// X-Request-ID headers are trusted so IDs survive proxy hops; otherwise a
// fresh UUID is minted. The ID is echoed on the response for client-side
// correlation.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"facturador/pkg/requestcontext"
)

const header = "X-Request-ID"

// Middleware stores the request correlation ID in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
