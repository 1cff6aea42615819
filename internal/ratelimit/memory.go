// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements AtomicCounterStore in process memory. It mirrors
// the Redis semantics and serves tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	hits    map[string][]time.Time
	blocked map[string]time.Time // block expiry per key
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hits:    make(map[string][]time.Time),
		blocked: make(map[string]time.Time),
	}
}

// Slide evaluates one hit under the store mutex, which provides the same
// indivisibility the Lua script gives the Redis implementation.
func (s *MemoryStore) Slide(_ context.Context, key string, now time.Time, window time.Duration, limit int64, block time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.blocked[key]; ok {
		if now.Before(until) {
			return Result{Allowed: false, RetryAfter: until.Sub(now)}, nil
		}
		delete(s.blocked, key)
	}

	cutoff := now.Add(-window)
	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.hits[key] = kept

	if int64(len(kept)) > limit {
		s.blocked[key] = now.Add(block)
		return Result{Allowed: false, RetryAfter: block}, nil
	}
	return Result{Allowed: true}, nil
}
