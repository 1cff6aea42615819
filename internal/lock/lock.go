// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package lock provides best-effort mutual exclusion over the shared
// key-value store, used to serialize identity merges across pipeline
// instances. A lock auto-expires after its TTL with no renewal, so a
// crashed holder cannot stall merges forever. This is appropriate for
// operations bounded well under the TTL, not a fencing-token-grade
// consensus primitive.
package lock

import (
	"context"
	"fmt"
	"time"
)

// LockStore is the minimal store contract. Both operations must be atomic
// as observed by all concurrent callers: SetIfAbsent is a single
// test-and-set, and ReleaseIfOwner a single compare-and-delete. A separate
// read-then-delete would let a holder a split second from TTL expiry
// delete another instance's newly acquired lock.
type LockStore interface {
	// SetIfAbsent creates key=owner with the TTL iff the key does not
	// exist. Returns true iff this call created the entry.
	SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// ReleaseIfOwner deletes the key iff its current value is owner.
	ReleaseIfOwner(ctx context.Context, key, owner string) error
}

// Mutex is a named lock bound to one owner instance.
type Mutex struct {
	store LockStore
	key   string
	owner string
	ttl   time.Duration
}

// NewMutex creates a mutex for the given key. The owner identifies this
// pipeline instance; only the instance holding the lock may release it.
func NewMutex(store LockStore, key, owner string, ttl time.Duration) (*Mutex, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if key == "" {
		return nil, fmt.Errorf("key required")
	}
	if owner == "" {
		return nil, fmt.Errorf("owner required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	return &Mutex{store: store, key: key, owner: owner, ttl: ttl}, nil
}

// Acquire attempts to take the lock. Returns true iff this call created
// the lock entry. Re-acquiring after explicit release or TTL expiry
// succeeds.
func (m *Mutex) Acquire(ctx context.Context) (bool, error) {
	ok, err := m.store.SetIfAbsent(ctx, m.key, m.owner, m.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", m.key, err)
	}
	return ok, nil
}

// Release drops the lock if this instance still holds it. Releasing a lock
// held by another instance (or no one) is a no-op.
func (m *Mutex) Release(ctx context.Context) error {
	if err := m.store.ReleaseIfOwner(ctx, m.key, m.owner); err != nil {
		return fmt.Errorf("release %s: %w", m.key, err)
	}
	return nil
}
