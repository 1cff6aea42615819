// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/trackhouse/trackhouse/internal/config"
)

// SubjectRoot is the prefix under which all event subjects live. Events for
// a project publish to events.<project_id>.
const SubjectRoot = "events"

// DuplicateWindow is how long JetStream remembers Nats-Msg-Id headers for
// server-side publish deduplication. Retried publishes of the same event
// inside this window collapse to one stored message.
const DuplicateWindow = 2 * time.Minute

// StreamManager handles JetStream stream lifecycle.
type StreamManager struct {
	js  jetstream.JetStream
	cfg *config.NATSConfig
}

// NewStreamManager creates a stream manager on an existing connection.
func NewStreamManager(nc *nats.Conn, cfg *config.NATSConfig) (*StreamManager, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return &StreamManager{js: js, cfg: cfg}, nil
}

// streamConfig builds the stream configuration. DiscardNew makes the
// server reject publishes once MaxBytes is reached instead of evicting
// stored events to make room: a full queue must surface as a failed
// publish (and a 503 at intake), never as silent loss of events the
// consumer has not processed yet.
func (m *StreamManager) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        m.cfg.StreamName,
		Subjects:    []string{SubjectRoot + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Duration(m.cfg.RetentionDays) * 24 * time.Hour,
		MaxBytes:    m.cfg.MaxStore,
		Duplicates:  DuplicateWindow,
		Replicas:    1,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardNew,
	}
}

// EnsureStream creates or updates the event stream. Subjects are wildcarded
// per project so one stream carries every tenant.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := m.streamConfig()

	if _, err := m.js.Stream(ctx, m.cfg.StreamName); err == nil {
		stream, err := m.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream: %w", err)
		}
		return stream, nil
	}

	stream, err := m.js.CreateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}
	return stream, nil
}

// Depth returns the intake-to-consumer backlog: messages stored in the
// stream that the durable consumers have not yet been delivered. The
// stream retains acked messages until its age and size limits, so the
// raw stored count would never shrink as the pipeline makes progress.
// Before any consumer exists (briefly during startup) every stored
// message is backlog, and the stored count stands in.
func (m *StreamManager) Depth(ctx context.Context) (uint64, error) {
	stream, err := m.js.Stream(ctx, m.cfg.StreamName)
	if err != nil {
		return 0, fmt.Errorf("get stream: %w", err)
	}

	var pending uint64
	consumers := 0
	lister := stream.ListConsumers(ctx)
	for info := range lister.Info() {
		pending += info.NumPending
		consumers++
	}
	if err := lister.Err(); err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}
	if consumers > 0 {
		return pending, nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("get stream info: %w", err)
	}
	return info.State.Msgs, nil
}
