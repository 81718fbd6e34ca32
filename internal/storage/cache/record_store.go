// Package cache fronts a record store with an in-process LRU.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// RecordStore serves repeated Get calls from memory. Stored records are never
// rewritten, so a cached entry cannot go stale.
type RecordStore struct {
	next  crawler.RecordStore
	cache *lru.Cache[string, crawler.Record]
}

// NewRecordStore wraps next with an LRU holding up to size records.
func NewRecordStore(next crawler.RecordStore, size int) (*RecordStore, error) {
	if next == nil {
		return nil, fmt.Errorf("record store is required")
	}
	c, err := lru.New[string, crawler.Record](size)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &RecordStore{next: next, cache: c}, nil
}

// CreateSchemaIfAbsent delegates to the wrapped store.
func (s *RecordStore) CreateSchemaIfAbsent(ctx context.Context) error {
	if err := s.next.CreateSchemaIfAbsent(ctx); err != nil {
		return fmt.Errorf("cached store: %w", err)
	}
	return nil
}

// Insert writes through and caches the record once the write succeeded.
func (s *RecordStore) Insert(ctx context.Context, record crawler.Record) error {
	if err := s.next.Insert(ctx, record); err != nil {
		return fmt.Errorf("cached store: %w", err)
	}
	s.cache.Add(record.ID, record)
	return nil
}

// Get answers from the cache, loading misses from the wrapped store.
func (s *RecordStore) Get(ctx context.Context, id string) (crawler.Record, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}
	rec, err := s.next.Get(ctx, id)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("cached store: %w", err)
	}
	s.cache.Add(id, rec)
	return rec, nil
}

// Ping reports the wrapped store's health when it can tell.
func (s *RecordStore) Ping(ctx context.Context) error {
	p, ok := s.next.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("cached store: %w", err)
	}
	return nil
}

// Len reports how many records are cached.
func (s *RecordStore) Len() int {
	return s.cache.Len()
}
