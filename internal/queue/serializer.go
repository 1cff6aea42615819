// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package queue provides the durable event queue between intake and the
// processing consumer, built on NATS JetStream. Intake publishes accepted
// events and returns immediately; the consumer drains them in batches with
// at-least-once delivery.
package queue

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/trackhouse/trackhouse/internal/models"
)

// Serializer converts events to and from the wire format. JSON keeps queue
// payloads debuggable with stock NATS tooling; goccy keeps the hot path off
// encoding/json reflection costs.
type Serializer struct{}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Marshal encodes an event for the queue.
func (s *Serializer) Marshal(ev *models.TrackedEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.EventID, err)
	}
	return data, nil
}

// Unmarshal decodes and validates a queued event. Messages that fail here
// are poison: structurally broken payloads that redelivery can never fix.
func (s *Serializer) Unmarshal(data []byte) (*models.TrackedEvent, error) {
	var ev models.TrackedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("queued event invalid: %w", err)
	}
	ev.EnsureSchemaVersion()
	return &ev, nil
}
