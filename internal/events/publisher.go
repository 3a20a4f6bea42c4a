package events

import (
	"context"
	"encoding/json"
	"fmt"

	id "facturador/pkg/domain"
	"facturador/pkg/requestcontext"
)

// Publisher appends billing events to the outbox. A nil Publisher is safe
// and drops events, so callers do not need to guard every emit site.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// Emit serializes payload and appends the event. Inside a transaction the
// append commits or rolls back with the surrounding change.
func (p *Publisher) Emit(ctx context.Context, eventType, aggregateType, aggregateID string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	event := Event{
		ID:            id.NewEventID(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       body,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := p.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
