package events

import (
	"context"
	"time"

	id "facturador/pkg/domain"
)

// Store persists outbox rows. Append participates in the caller's
// transaction when one is carried in context.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListUnpublished returns events not yet relayed, oldest first.
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, eventIDs []id.EventID, at time.Time) error
}
