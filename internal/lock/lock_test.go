// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package lock

import (
	"context"
	"testing"
	"time"
)

func TestMutex_MutualExclusion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, err := NewMutex(store, "merge:p1:person-9", "instance-a", time.Minute)
	if err != nil {
		t.Fatalf("NewMutex: %v", err)
	}
	b, err := NewMutex(store, "merge:p1:person-9", "instance-b", time.Minute)
	if err != nil {
		t.Fatalf("NewMutex: %v", err)
	}

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a should acquire an uncontended lock")
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("b acquired a lock a still holds")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Error("b should acquire after a released")
	}
}

func TestMutex_ReleaseIsOwnershipChecked(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := NewMutex(store, "merge:p1:person-3", "instance-a", time.Minute)
	b, _ := NewMutex(store, "merge:p1:person-3", "instance-b", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a should acquire")
	}

	// b never held the lock; its release must not free a's lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Error("b's no-op release removed a's lock")
	}

	// Releasing twice is a no-op, not an error.
	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Errorf("second Release errored: %v", err)
	}
}

func TestMutex_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	a, _ := NewMutex(store, "merge:p2:person-1", "instance-a", 30*time.Second)
	b, _ := NewMutex(store, "merge:p2:person-1", "instance-b", 30*time.Second)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a should acquire")
	}

	now = now.Add(30*time.Second - time.Millisecond)
	if ok, _ := b.Acquire(ctx); ok {
		t.Error("b acquired before a's TTL elapsed")
	}

	now = now.Add(2 * time.Millisecond)
	if ok, _ := b.Acquire(ctx); !ok {
		t.Error("b should acquire once a's TTL elapsed")
	}

	// a's lock is gone; its release must not free b's lock.
	if err := a.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	a2, _ := NewMutex(store, "merge:p2:person-1", "instance-a2", 30*time.Second)
	if ok, _ := a2.Acquire(ctx); ok {
		t.Error("stale holder's release removed the new holder's lock")
	}
}

func TestNewMutex_Validation(t *testing.T) {
	store := NewMemoryStore()
	cases := []struct {
		name  string
		store LockStore
		key   string
		owner string
		ttl   time.Duration
	}{
		{"nil store", nil, "k", "o", time.Second},
		{"empty key", store, "", "o", time.Second},
		{"empty owner", store, "k", "", time.Second},
		{"zero ttl", store, "k", "o", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMutex(tc.store, tc.key, tc.owner, tc.ttl); err == nil {
				t.Error("expected error")
			}
		})
	}
}
