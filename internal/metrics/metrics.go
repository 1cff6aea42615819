// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package metrics provides Prometheus instrumentation for the pipeline:
// intake admission decisions, queue health, batch flush performance, and
// identity merge outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for EventsDropped. Malformed payloads are counted, never
// silently ignored.
const (
	DropReasonMalformed = "malformed"
	DropReasonShape     = "shape"
	DropReasonParse     = "parse"
	DropReasonOversized = "oversized"
)

var (
	// Intake admission metrics
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_received_total",
			Help: "Total number of events accepted past authentication",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of events dropped, by reason",
		},
		[]string{"reason"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Total number of requests rejected by the sliding-window rate limiter",
		},
	)

	QuotaLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_limited_total",
			Help: "Total number of requests rejected while a tenant block is active",
		},
	)

	BackpressureRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backpressure_rejected_total",
			Help: "Total number of requests rejected because the durable queue is at capacity",
		},
	)

	// Intake HTTP metrics
	IntakeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_request_duration_seconds",
			Help:    "Intake request duration in seconds",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"endpoint"},
	)

	IntakeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_requests_total",
			Help: "Total number of intake requests",
		},
		[]string{"endpoint", "status_code"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Current number of messages pending in the durable queue",
		},
	)

	QueuePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_published_total",
			Help: "Total number of messages published to the durable queue",
		},
	)

	QueueConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_consumed_total",
			Help: "Total number of messages consumed from the durable queue",
		},
	)

	QueueDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_messages_deduplicated_total",
			Help: "Total number of messages skipped as duplicates",
		},
	)

	// Batch writer metrics
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_duration_ms",
			Help:    "Duration of batch flushes to the columnar store in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_size",
			Help:    "Number of events in each batch flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	BatchFlushErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_flush_errors_total",
			Help: "Total number of failed batch flush attempts (including retried ones)",
		},
	)

	EventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_written_total",
			Help: "Total number of events written to the columnar store",
		},
	)

	// Identity resolution metrics
	MergesApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_merges_applied_total",
			Help: "Total number of identity merges applied",
		},
	)

	MergeLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_merge_lock_contention_total",
			Help: "Total number of merge lock acquisition failures (retried by caller)",
		},
	)

	// Limiter store health
	LimiterStoreErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of rate limiter store failures (policy decides admission)",
		},
	)

	// Heartbeat
	HeartbeatSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "heartbeat_writes_skipped_total",
			Help: "Total number of liveness stamp writes skipped due to consumer staleness",
		},
	)
)

// RecordDrop increments the drop counter for the given reason.
func RecordDrop(reason string) {
	EventsDropped.WithLabelValues(reason).Inc()
}

// RecordIntakeRequest records an intake request outcome.
func RecordIntakeRequest(endpoint, statusCode string, duration time.Duration) {
	IntakeRequestsTotal.WithLabelValues(endpoint, statusCode).Inc()
	IntakeRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBatchFlush records a completed batch flush.
func RecordBatchFlush(duration time.Duration, size int) {
	BatchDuration.Observe(float64(duration.Milliseconds()))
	BatchSize.Observe(float64(size))
	EventsWritten.Add(float64(size))
}

// UpdateQueueDepth updates the queue depth gauge.
func UpdateQueueDepth(depth int64) {
	QueueDepth.Set(float64(depth))
}
