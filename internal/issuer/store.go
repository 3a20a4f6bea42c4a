package issuer

import (
	"context"

	id "facturador/pkg/domain"
)

// Store persists issuers keyed by NIF.
type Store interface {
	Create(ctx context.Context, iss *Issuer) error
	Get(ctx context.Context, nif id.IssuerNIF) (*Issuer, error)
	List(ctx context.Context) ([]*Issuer, error)
	// Execute atomically validates and mutates one issuer while holding the
	// row lock, then persists the result.
	Execute(ctx context.Context, nif id.IssuerNIF, validate func(*Issuer) error, mutate func(*Issuer)) (*Issuer, error)
}
