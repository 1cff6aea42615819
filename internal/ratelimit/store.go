// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package ratelimit implements the sliding-window rate/quota limiter keyed
// by tenant. Hit timestamps live in a per-tenant sorted set in the shared
// key-value store; once the count within the rolling window exceeds the
// limit, a block marker with its own expiry rejects the tenant for the
// configured block duration regardless of subsequent hits.
//
// The add/trim/count/expire transitions execute as a single atomic
// operation against the store so two concurrent callers on the same tenant
// can never both slip past the serialization point. The atomicity is an
// implementation detail behind the AtomicCounterStore contract: Redis does
// it with a Lua script, the in-memory store with a mutex.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one atomic sliding-window evaluation.
type Result struct {
	// Allowed reports whether the hit was admitted.
	Allowed bool
	// RetryAfter is the remaining block time when not allowed.
	RetryAfter time.Duration
}

// AtomicCounterStore evaluates one hit against the sliding window and block
// marker in a single indivisible operation.
type AtomicCounterStore interface {
	// Slide records a hit at now, trims entries older than the window,
	// refreshes the set expiry, and sets the block marker when the count
	// exceeds limit. An active block rejects immediately without recording.
	Slide(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, block time.Duration) (Result, error)
}
