package events

import (
	"context"
	"sync"
	"time"

	id "facturador/pkg/domain"
)

// InMemoryStore keeps outbox rows in a slice. Development and test use; the
// transactional guarantee only holds on Postgres.
type InMemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListUnpublished(_ context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, eventIDs []id.EventID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := make(map[id.EventID]bool, len(eventIDs))
	for _, eid := range eventIDs {
		marked[eid] = true
	}
	for i := range s.events {
		if marked[s.events[i].ID] {
			t := at
			s.events[i].PublishedAt = &t
		}
	}
	return nil
}

// All returns every stored event. Test helper.
func (s *InMemoryStore) All() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
