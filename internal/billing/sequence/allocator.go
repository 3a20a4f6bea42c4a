// Package sequence issues gapless, strictly monotonic invoice numbers scoped
// to (issuer, fiscal year).
//
// The n-th successful allocation for a key returns exactly n. Unlike an
// auto-increment column, a rolled-back allocation must not consume a number:
// the Postgres allocator only ever bumps the counter inside the caller's
// transaction, so the counter update and the invoice persist commit or roll
// back together.
package sequence

import (
	"context"

	id "facturador/pkg/domain"
)

// Allocator hands out the next sequence number for an issuer and year.
// Implementations must be safe for concurrent callers.
type Allocator interface {
	// Next returns the next gapless sequence number. Concurrent calls for
	// the same key serialize; a conflict that cannot be serialized surfaces
	// as sentinel.ErrConflict for the caller to retry.
	Next(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error)

	// Current returns the last allocated number, or 0 if none.
	Current(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error)
}
