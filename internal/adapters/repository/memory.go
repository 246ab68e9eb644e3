package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/raidsync/internal/domain/model"
)

// MemoryStore keeps everything in process memory. It backs local runs and
// tests; data does not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	summaries  map[string]model.Summary
	byAssoc    map[model.Association]string
	encounters map[string]model.Encounter
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries:  make(map[string]model.Summary),
		byAssoc:    make(map[model.Association]string),
		encounters: make(map[string]model.Encounter),
	}
}

// CreateSummary implements Store.
func (s *MemoryStore) CreateSummary(_ context.Context, sum model.Summary) error {
	defer observe("create_summary", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.summaries[sum.ID]; ok {
		return fmt.Errorf("%w: summary %s", ErrExists, sum.ID)
	}
	sum.Uploaders = append([]model.Uploader(nil), sum.Uploaders...)
	s.summaries[sum.ID] = sum
	s.byAssoc[sum.Association] = sum.ID
	return nil
}

// AttributeUploader implements Store.
func (s *MemoryStore) AttributeUploader(_ context.Context, recordID string, u model.Uploader) error {
	defer observe("attribute_uploader", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[recordID]
	if !ok {
		return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	sum.Uploaders = append(sum.Uploaders, u)
	sum.UpdatedAt = time.Now()
	s.summaries[recordID] = sum
	return nil
}

// SetSummaryStatus implements Store.
func (s *MemoryStore) SetSummaryStatus(_ context.Context, recordID string, status model.Status, errText string) error {
	defer observe("set_summary_status", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[recordID]
	if !ok {
		return fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	sum.Status = status
	sum.Error = errText
	sum.UpdatedAt = time.Now()
	s.summaries[recordID] = sum
	return nil
}

// SaveEncounter implements Store.
func (s *MemoryStore) SaveEncounter(_ context.Context, enc model.Encounter) error {
	defer observe("save_encounter", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.encounters[enc.ID]; ok {
		return fmt.Errorf("%w: encounter %s", ErrExists, enc.ID)
	}
	s.encounters[enc.ID] = enc
	return nil
}

// Summary implements Store.
func (s *MemoryStore) Summary(_ context.Context, recordID string) (model.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[recordID]
	if !ok {
		return model.Summary{}, fmt.Errorf("%w: summary %s", ErrNotFound, recordID)
	}
	sum.Uploaders = append([]model.Uploader(nil), sum.Uploaders...)
	return sum, nil
}

// SummaryByAssociation implements Store.
func (s *MemoryStore) SummaryByAssociation(ctx context.Context, association model.Association) (model.Summary, error) {
	s.mu.RLock()
	id, ok := s.byAssoc[association]
	s.mu.RUnlock()
	if !ok {
		return model.Summary{}, fmt.Errorf("%w: association %s", ErrNotFound, association)
	}
	return s.Summary(ctx, id)
}

// Encounter implements Store.
func (s *MemoryStore) Encounter(_ context.Context, recordID string) (model.Encounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc, ok := s.encounters[recordID]
	if !ok {
		return model.Encounter{}, fmt.Errorf("%w: encounter %s", ErrNotFound, recordID)
	}
	return enc, nil
}

// CountEncounters implements Store.
func (s *MemoryStore) CountEncounters(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.encounters)), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
