package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and single-node
// deployments. All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.ID] = &clone
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

// RevokeIfActive implements Store. The mutex makes the check-and-set
// atomic.
func (s *MemoryStore) RevokeIfActive(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	return true, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		rec.Revoked = true
	}
	return nil
}

// RevokeAllForAccount implements Store.
func (s *MemoryStore) RevokeAllForAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.AccountID == accountID {
			rec.Revoked = true
		}
	}
	return nil
}

// LiveForAccount implements Store.
func (s *MemoryStore) LiveForAccount(_ context.Context, accountID string, now time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []*Record
	for _, rec := range s.records {
		if rec.AccountID == accountID && rec.Live(now) {
			clone := *rec
			live = append(live, &clone)
		}
	}

	sortRecordsOldestFirst(live)
	return live, nil
}

// HasLiveSession implements Store.
func (s *MemoryStore) HasLiveSession(_ context.Context, accountID, sessionID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.AccountID == accountID && rec.SessionID == sessionID && rec.Live(now) {
			return true, nil
		}
	}
	return false, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
	return nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if !now.Before(rec.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records the store currently holds, expired or
// not. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
