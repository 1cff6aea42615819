// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package heartbeat maintains the consumer liveness file. The consumer loop
// calls Touch once per iteration, including iterations that collected no
// events; a background ticker rewrites the file as long as a touch arrived
// within the staleness window. A wedged consumer stops touching, the
// rewrites stop, and the file's age grows, which is what external liveness
// probes watch for.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
)

// Monitor stamps the liveness file on a fixed cadence, gated on recent
// consumer progress.
type Monitor struct {
	path      string
	interval  time.Duration
	staleness time.Duration
	lastTouch atomic.Int64 // unix nanos of the latest Touch, 0 before the first
	now       func() time.Time
}

// New creates a monitor writing to path every interval. A staleness of
// zero defaults to twice the interval, so a single missed tick does not
// flag the consumer as stuck.
func New(path string, interval, staleness time.Duration) (*Monitor, error) {
	if path == "" {
		return nil, fmt.Errorf("path required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if staleness <= 0 {
		staleness = 2 * interval
	}
	return &Monitor{path: path, interval: interval, staleness: staleness, now: time.Now}, nil
}

// Touch records that the consumer loop completed an iteration. Safe for
// concurrent use and cheap enough to call on every iteration.
func (m *Monitor) Touch() {
	m.lastTouch.Store(m.now().UnixNano())
}

// Run stamps the file until ctx is cancelled. An initial stamp is written
// immediately so probes see a fresh file during startup, before the
// consumer's first iteration.
func (m *Monitor) Run(ctx context.Context) error {
	m.stamp()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.beat()
		}
	}
}

// beat rewrites the stamp unless the consumer has touched at least once
// and its latest touch is older than the staleness window. Before the
// first touch the stamp keeps advancing, covering startup.
func (m *Monitor) beat() {
	last := m.lastTouch.Load()
	if last != 0 {
		if stale := m.now().Sub(time.Unix(0, last)); stale > m.staleness {
			metrics.HeartbeatSkipped.Inc()
			logging.Warn().
				Str("path", m.path).
				Dur("stale_for", stale).
				Msg("Heartbeat skipped: no consumer progress within staleness window")
			return
		}
	}
	m.stamp()
}

// stamp writes the current time to the liveness file. Write failures are
// logged and swallowed: a broken liveness file must never take down the
// pipeline it reports on.
func (m *Monitor) stamp() {
	payload := []byte(m.now().UTC().Format(time.RFC3339Nano) + "\n")
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		logging.Warn().Str("path", m.path).Err(err).Msg("Failed to create heartbeat directory")
		return
	}
	if err := os.WriteFile(m.path, payload, 0o644); err != nil {
		logging.Warn().Str("path", m.path).Err(err).Msg("Failed to write heartbeat file")
	}
}
