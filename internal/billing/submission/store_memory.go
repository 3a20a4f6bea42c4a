package submission

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
)

// InMemoryStore keeps submission records in a map. Development and test use.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[id.SubmissionID]models.SubmissionRecord
	byInvoice map[id.InvoiceID]id.SubmissionID
	byKey     map[string]id.SubmissionID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[id.SubmissionID]models.SubmissionRecord),
		byInvoice: make(map[id.InvoiceID]id.SubmissionID),
		byKey:     make(map[string]id.SubmissionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, rec models.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("submission %s: %w", rec.ID, sentinel.ErrConflict)
	}
	if _, ok := s.byKey[rec.IdempotencyKey]; ok {
		return fmt.Errorf("idempotency key %s: %w", rec.IdempotencyKey, sentinel.ErrConflict)
	}
	s.records[rec.ID] = rec
	s.byInvoice[rec.InvoiceID] = rec.ID
	s.byKey[rec.IdempotencyKey] = rec.ID
	return nil
}

func (s *InMemoryStore) Save(_ context.Context, rec models.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return fmt.Errorf("submission %s: %w", rec.ID, sentinel.ErrNotFound)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, submissionID id.SubmissionID) (models.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[submissionID]
	if !ok {
		return models.SubmissionRecord{}, fmt.Errorf("submission %s: %w", submissionID, sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *InMemoryStore) GetByInvoice(_ context.Context, invoiceID id.InvoiceID) (models.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.byInvoice[invoiceID]
	if !ok {
		return models.SubmissionRecord{}, fmt.Errorf("submission for invoice %s: %w", invoiceID, sentinel.ErrNotFound)
	}
	return s.records[sid], nil
}

func (s *InMemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []models.SubmissionRecord
	for _, rec := range s.records {
		if rec.Status != models.SubmissionPending {
			continue
		}
		if rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			continue
		}
		due = append(due, rec)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *InMemoryStore) RequeueStuck(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	moved := 0
	for sid, rec := range s.records {
		if rec.Status != models.SubmissionSent || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		// Immediately due: the original attempt's outcome is unknown, so
		// redelivery should not wait out another backoff.
		rec.Status = models.SubmissionPending
		rec.NextRetryAt = nil
		rec.UpdatedAt = now
		s.records[sid] = rec
		moved++
	}
	return moved, nil
}

func (s *InMemoryStore) CountByStatus(_ context.Context) (map[models.SubmissionStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.SubmissionStatus]int64)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}
