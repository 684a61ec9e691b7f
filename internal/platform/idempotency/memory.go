package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process; used by the memory store backend and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && !existing.expired(now) {
		if existing.Fingerprint != fingerprint {
			return Entry{}, false, ErrKeyReused
		}
		return existing, false, nil
	}
	entry := Entry{
		Key:         key,
		Fingerprint: fingerprint,
		State:       StateInFlight,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.entries[key] = entry
	return entry, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[entry.Key]
	if ok && existing.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	entry.State = StateDone
	entry.Header = replayableHeader(entry.Header)
	entry.Body = append([]byte(nil), entry.Body...)
	s.entries[entry.Key] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
