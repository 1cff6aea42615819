// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
)

// Config holds the window parameters and the store-outage policy for one
// limiter instance. The intake layer runs two instances over the same
// store: a short-window burst limiter and a long-window quota limiter,
// distinguished by KeyPrefix.
type Config struct {
	// KeyPrefix namespaces this limiter's keys in the shared store.
	KeyPrefix string

	// Window is the rolling interval over which hits are counted.
	Window time.Duration

	// Limit is the maximum number of hits admitted per window.
	Limit int64

	// BlockDuration is how long a tenant stays rejected after exceeding
	// the limit, independent of the window's own expiry.
	BlockDuration time.Duration

	// FailOpen admits requests when the shared store is unreachable.
	// Default is false: fail closed to protect backend resources.
	FailOpen bool
}

// Decision is the limiter verdict for one request.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter applies the sliding-window + block algorithm for one window
// configuration.
type Limiter struct {
	store AtomicCounterStore
	cfg   Config
	now   func() time.Time
}

// New creates a limiter over the given store.
func New(store AtomicCounterStore, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if cfg.BlockDuration <= 0 {
		return nil, fmt.Errorf("block duration must be positive")
	}
	return &Limiter{store: store, cfg: cfg, now: time.Now}, nil
}

// Check evaluates one hit for the tenant. Store failures resolve per the
// configured policy and are counted, never propagated to the caller.
func (l *Limiter) Check(ctx context.Context, tenantKey string) Decision {
	key := tenantKey
	if l.cfg.KeyPrefix != "" {
		key = l.cfg.KeyPrefix + ":" + tenantKey
	}

	res, err := l.store.Slide(ctx, key, l.now(), l.cfg.Window, l.cfg.Limit, l.cfg.BlockDuration)
	if err != nil {
		metrics.LimiterStoreErrors.Inc()
		logging.Warn().
			Str("tenant", tenantKey).
			Bool("fail_open", l.cfg.FailOpen).
			Err(err).
			Msg("Limiter store unreachable")
		return Decision{Allowed: l.cfg.FailOpen}
	}

	return Decision{Allowed: res.Allowed, RetryAfter: res.RetryAfter}
}
