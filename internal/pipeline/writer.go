// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package pipeline contains the processing consumer: it drains the durable
// queue in batches, enriches events, and flushes them to the columnar
// store with bounded retry.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/trackhouse/trackhouse/internal/config"
	"github.com/trackhouse/trackhouse/internal/database"
	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
)

// EventStore is the subset of the database the writer needs.
type EventStore interface {
	InsertEventBatch(ctx context.Context, events []*models.TrackedEvent) (database.BatchResult, error)
	UpsertPropertyDefinitions(ctx context.Context, defs []models.PropertyDefinition) error
}

// Writer flushes event batches to the store. A flush is all-or-nothing:
// either the whole batch commits or the attempt is retried with backoff.
// When retries are exhausted the error propagates to the consumer, which
// stops rather than ack messages it could not persist.
type Writer struct {
	store EventStore
	cfg   config.PipelineConfig
}

// NewWriter creates a batch writer.
func NewWriter(store EventStore, cfg config.PipelineConfig) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	return &Writer{store: store, cfg: cfg}, nil
}

// Flush writes one batch and its derived property definitions. Property
// definitions are written after the events commit and are best-effort:
// they are derived data, recomputed as more events arrive, and must never
// fail a batch that already persisted.
func (w *Writer) Flush(ctx context.Context, events []*models.TrackedEvent, defs []models.PropertyDefinition) error {
	if len(events) == 0 && len(defs) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < w.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := w.backoff(attempt)
			logging.Warn().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying batch flush")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		res, err := w.store.InsertEventBatch(ctx, events)
		if err != nil {
			metrics.BatchFlushErrors.Inc()
			lastErr = err
			continue
		}

		metrics.RecordBatchFlush(time.Since(start), res.Inserted)
		if res.Duplicates > 0 {
			metrics.QueueDeduplicated.Add(float64(res.Duplicates))
		}

		if len(defs) > 0 {
			if err := w.store.UpsertPropertyDefinitions(ctx, defs); err != nil {
				logging.Warn().Err(err).Msg("Failed to write property definitions")
			}
		}
		return nil
	}

	return fmt.Errorf("batch flush failed after %d attempts: %w", w.cfg.RetryAttempts, lastErr)
}

// backoff doubles the base delay per attempt, capped at MaxRetryDelay.
func (w *Writer) backoff(attempt int) time.Duration {
	delay := w.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.MaxRetryDelay {
			return w.cfg.MaxRetryDelay
		}
	}
	if delay > w.cfg.MaxRetryDelay {
		delay = w.cfg.MaxRetryDelay
	}
	return delay
}
