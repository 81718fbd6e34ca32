package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// RecordStore is an in-memory crawler.RecordStore with the same duplicate
// semantics as the Postgres table.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]crawler.Record
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]crawler.Record)}
}

// CreateSchemaIfAbsent is a no-op; the map is ready on construction.
func (s *RecordStore) CreateSchemaIfAbsent(context.Context) error {
	return nil
}

// Insert stores record unless its id is already present.
func (s *RecordStore) Insert(_ context.Context, record crawler.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("insert record %s: %w", record.ID, crawler.ErrDuplicateRecord)
	}
	s.records[record.ID] = record
	return nil
}

// Get returns the record stored under id.
func (s *RecordStore) Get(_ context.Context, id string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return crawler.Record{}, fmt.Errorf("get record %s: %w", id, crawler.ErrRecordNotFound)
	}
	return rec, nil
}

// IDs lists stored ids in lexical order.
func (s *RecordStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close satisfies the shutdown hook shared with the Postgres store.
func (s *RecordStore) Close() {}
