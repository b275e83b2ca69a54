package holdstore

import (
	"context"
	"sync"
	"time"

	"github.com/Ranjit-Khanal/slot-reservation-engine/internal/clock"
)

type memoryEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node development.
// Expired entries are dropped lazily, on next access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   clock.Clock
}

func NewMemory(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clk,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if entry, ok := s.entries[key]; ok && entry.expiresAt.After(now) {
		return ErrAlreadyHeld
	}
	s.entries[key] = memoryEntry{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(s.clock.Now()) || entry.owner != owner {
		return ErrNotHeld
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Extend(_ context.Context, key, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(now) || entry.owner != owner {
		return ErrNotHeld
	}
	entry.expiresAt = now.Add(ttl)
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Owner(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", ErrNotHeld
	}
	if !entry.expiresAt.After(s.clock.Now()) {
		delete(s.entries, key)
		return "", ErrNotHeld
	}
	return entry.owner, nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if !entry.expiresAt.After(now) {
			delete(s.entries, key)
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
