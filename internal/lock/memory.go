// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package lock

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	owner   string
	expires time.Time
}

// MemoryStore implements LockStore in process memory for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an in-memory lock store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetIfAbsent creates the entry iff absent or expired.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && s.now().Before(e.expires) {
		return false, nil
	}
	s.entries[key] = memoryEntry{owner: owner, expires: s.now().Add(ttl)}
	return true, nil
}

// ReleaseIfOwner deletes the entry iff owner holds it.
func (s *MemoryStore) ReleaseIfOwner(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.owner == owner {
		delete(s.entries, key)
	}
	return nil
}
