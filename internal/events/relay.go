package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"facturador/internal/platform/config"
	id "facturador/pkg/domain"
)

// producer is the slice of *kgo.Client the relay uses, injectable in tests.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay moves unpublished outbox rows to Kafka. At-least-once: a crash
// between produce and mark republishes the batch, and consumers deduplicate
// on the event ID carried in the record key.
type Relay struct {
	store     Store
	client    producer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewRelay connects a Kafka producer for the configured brokers. Returns nil
// when no brokers are configured; the outbox then accumulates until a relay
// is deployed.
func NewRelay(cfg config.Kafka, store Store, logger *slog.Logger) (*Relay, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:     store,
		client:    client,
		topic:     cfg.Topic,
		interval:  5 * time.Second,
		batchSize: 100,
		logger:    logger,
	}, nil
}

// Run relays batches until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.relayBatch(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay batch failed", "err", err)
			}
		}
	}
}

// Close flushes and tears down the producer.
func (r *Relay) Close() {
	if client, ok := r.client.(*kgo.Client); ok {
		client.Close()
	}
}

func (r *Relay) relayBatch(ctx context.Context) error {
	batch, err := r.store.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("load outbox batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(batch))
	for i, event := range batch {
		records[i] = &kgo.Record{
			Topic: r.topic,
			// Aggregate ID keys the partition so per-invoice ordering holds.
			Key:   []byte(event.AggregateID),
			Value: event.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_id", Value: []byte(event.ID.String())},
				{Key: "event_type", Value: []byte(event.Type)},
			},
		}
	}
	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce outbox batch: %w", err)
	}

	ids := make([]id.EventID, len(batch))
	for i, event := range batch {
		ids[i] = event.ID
	}
	if err := r.store.MarkPublished(ctx, ids, time.Now()); err != nil {
		return fmt.Errorf("mark outbox batch published: %w", err)
	}
	r.logger.Debug("outbox batch relayed", "events", len(batch))
	return nil
}
