// Package events implements a transactional outbox for billing lifecycle
// events. Events are appended inside the same database transaction as the
// state change they describe and relayed to Kafka by a background worker, so
// a consumer never sees an event for a change that was rolled back.
package events

import (
	"encoding/json"
	"time"

	id "facturador/pkg/domain"
)

// Event types emitted by the billing pipeline.
const (
	TypeInvoiceIssued       = "invoice.issued"
	TypeInvoiceAcknowledged = "invoice.acknowledged"
	TypeInvoiceRejected     = "invoice.rejected"
	TypeInvoiceVoided       = "invoice.voided"
	TypeInvoiceExported     = "invoice.exported"
	TypeIssuerHalted        = "issuer.halted"
)

// Event is one outbox row. Payload is the JSON document consumers receive;
// the envelope fields drive routing and partitioning.
type Event struct {
	ID            id.EventID      `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
}
