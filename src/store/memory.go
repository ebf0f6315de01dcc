package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/provider"
)

// MemoryStore is an in-memory implementation of Store.
// Used when no database is configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]contracts.BuildRecord // releaseID -> record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]contracts.BuildRecord),
	}
}

// SaveOutcome stores a copy of the record.
func (s *MemoryStore) SaveOutcome(ctx context.Context, rec *contracts.BuildRecord) error {
	if rec.ReleaseID == "" {
		return fmt.Errorf("build record has no release id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ReleaseID] = copyRecord(*rec)
	return nil
}

// GetOutcome returns a copy of the stored record.
func (s *MemoryStore) GetOutcome(ctx context.Context, releaseID string) (*contracts.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[releaseID]
	if !exists {
		return nil, fmt.Errorf("%w: build %s", provider.ErrNotFound, releaseID)
	}

	rec = copyRecord(rec)
	return &rec, nil
}

// ListOutcomes returns up to limit records ordered by finish time, newest
// first. A limit of 0 returns everything.
func (s *MemoryStore) ListOutcomes(ctx context.Context, limit int) ([]contracts.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]contracts.BuildRecord, 0, len(s.records))
	for _, rec := range s.records {
		result = append(result, copyRecord(rec))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FinishedAt.Equal(result[j].FinishedAt) {
			return result[i].FinishedAt.After(result[j].FinishedAt)
		}
		return result[i].ReleaseID < result[j].ReleaseID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

func copyRecord(rec contracts.BuildRecord) contracts.BuildRecord {
	rec.Checks = append([]contracts.CheckState(nil), rec.Checks...)
	rec.Assets = append([]string(nil), rec.Assets...)
	return rec
}
