package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

// DocumentStore keeps listing records in memory for development and tests.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]marketplace.ListingRecord
	// puts counts writes, including overwrites.
	puts int
}

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]marketplace.ListingRecord)}
}

// Exists reports whether a record is stored under key.
func (s *DocumentStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[key]
	return ok, nil
}

// Put stores record under key, replacing any previous value.
func (s *DocumentStore) Put(_ context.Context, key string, record marketplace.ListingRecord) error {
	if key == "" {
		return errors.New("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ImageURLs = append([]string(nil), record.ImageURLs...)
	s.docs[key] = record
	s.puts++
	return nil
}

// Get returns a copy of the record stored under key.
func (s *DocumentStore) Get(key string) (marketplace.ListingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[key]
	if ok {
		rec.ImageURLs = append([]string(nil), rec.ImageURLs...)
	}
	return rec, ok
}

// Len returns the number of stored records.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Puts returns the number of writes performed.
func (s *DocumentStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Close is a no-op.
func (s *DocumentStore) Close(context.Context) error {
	return nil
}

var _ marketplace.DocumentStore = (*DocumentStore)(nil)
