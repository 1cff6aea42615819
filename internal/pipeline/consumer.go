// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/trackhouse/trackhouse/internal/enrich/proptypes"
	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
	"github.com/trackhouse/trackhouse/internal/queue"
)

// MessageSource delivers queued messages.
type MessageSource interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// GeoLookup resolves an IP to a location, best-effort.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) models.GeoLocation
}

// PersonResolver assigns an event its canonical person, applying identity
// merges when the event requests one.
type PersonResolver interface {
	Resolve(ctx context.Context, ev *models.TrackedEvent) error
}

// Toucher records consumer progress for the liveness heartbeat.
type Toucher interface {
	Touch()
}

// Consumer is the processing loop: collect a batch, enrich, flush, ack.
// Delivery is at-least-once; the ack for a message is sent only after the
// batch containing it committed, and the store absorbs redelivered rows.
type Consumer struct {
	source     MessageSource
	serializer *queue.Serializer
	writer     *Writer
	geo        GeoLookup
	identity   PersonResolver
	heartbeat  Toucher

	batchSize     int
	flushInterval time.Duration
}

// NewConsumer wires the processing loop.
func NewConsumer(source MessageSource, writer *Writer, geo GeoLookup, identity PersonResolver, heartbeat Toucher, batchSize int, flushInterval time.Duration) (*Consumer, error) {
	if source == nil {
		return nil, fmt.Errorf("message source required")
	}
	if writer == nil {
		return nil, fmt.Errorf("writer required")
	}
	if geo == nil {
		return nil, fmt.Errorf("geo lookup required")
	}
	if identity == nil {
		return nil, fmt.Errorf("person resolver required")
	}
	if heartbeat == nil {
		return nil, fmt.Errorf("heartbeat required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("flush interval must be positive")
	}
	return &Consumer{
		source:        source,
		serializer:    queue.NewSerializer(),
		writer:        writer,
		geo:           geo,
		identity:      identity,
		heartbeat:     heartbeat,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}, nil
}

// Run consumes until ctx is cancelled, then drains the pending batch before
// returning. A flush that exhausts its retries is fatal: the error returns
// to the supervisor with unacked messages left for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	batch := make([]*message.Message, 0, c.batchSize)
	timer := time.NewTimer(c.flushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain with a fresh context: the loop context is already
			// cancelled and would abort the final flush.
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := c.flush(drainCtx, batch)
			cancel()
			if err != nil {
				return fmt.Errorf("drain flush: %w", err)
			}
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				return c.flush(ctx, batch)
			}
			batch = append(batch, msg)
			if len(batch) >= c.batchSize {
				if err := c.flush(ctx, batch); err != nil {
					c.nackAll(batch)
					return err
				}
				batch = batch[:0]
				resetTimer(timer, c.flushInterval)
			}

		case <-timer.C:
			// Interval flushes fire even when the batch is empty so the
			// heartbeat keeps advancing through idle periods.
			if err := c.flush(ctx, batch); err != nil {
				c.nackAll(batch)
				return err
			}
			batch = batch[:0]
			timer.Reset(c.flushInterval)
		}
	}
}

// flush enriches and persists one batch, then acks its messages. Poison
// messages are acked and counted as drops; enrichment failures nack the
// individual message for redelivery without failing the batch.
func (c *Consumer) flush(ctx context.Context, msgs []*message.Message) error {
	c.heartbeat.Touch()
	if len(msgs) == 0 {
		return nil
	}

	events := make([]*models.TrackedEvent, 0, len(msgs))
	pending := make([]*message.Message, 0, len(msgs))
	var defs []models.PropertyDefinition
	seenDefs := make(map[string]struct{})

	for _, msg := range msgs {
		ev, err := c.serializer.Unmarshal(msg.Payload)
		if err != nil {
			// Redelivery cannot fix a broken payload; ack it away.
			metrics.RecordDrop(metrics.DropReasonParse)
			logging.Warn().Str("message_uuid", msg.UUID).Err(err).Msg("Dropping poison message")
			msg.Ack()
			continue
		}
		metrics.QueueConsumed.Inc()

		ev.Geo = c.geo.Lookup(ctx, ev.Context.IP)
		defs = appendDefinitions(defs, seenDefs, ev)

		if err := c.identity.Resolve(ctx, ev); err != nil {
			// Transient by assumption (lock contention, store hiccup):
			// redeliver this message alone, keep the batch going.
			logging.Warn().Str("event_id", ev.EventID).Err(err).Msg("Identity resolution failed, requeueing")
			msg.Nack()
			continue
		}

		events = append(events, ev)
		pending = append(pending, msg)
	}

	if err := c.writer.Flush(ctx, events, defs); err != nil {
		return err
	}
	for _, msg := range pending {
		msg.Ack()
	}
	return nil
}

func (c *Consumer) nackAll(msgs []*message.Message) {
	for _, msg := range msgs {
		msg.Nack()
	}
}

// appendDefinitions infers property types for an event's properties,
// deduplicating within the batch. First inference wins, matching the
// store's conflict rule.
func appendDefinitions(defs []models.PropertyDefinition, seen map[string]struct{}, ev *models.TrackedEvent) []models.PropertyDefinition {
	for name, value := range ev.Properties {
		key := ev.ProjectID + "\x00" + ev.EventName + "\x00" + name
		if _, ok := seen[key]; ok {
			continue
		}
		typ, ok := proptypes.DetectValueType(name, value)
		if !ok {
			continue
		}
		seen[key] = struct{}{}
		defs = append(defs, models.PropertyDefinition{
			ProjectID:    ev.ProjectID,
			EventName:    ev.EventName,
			PropertyName: name,
			InferredType: typ,
		})
	}
	return defs
}

// resetTimer drains a fired-but-unread timer before resetting.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
