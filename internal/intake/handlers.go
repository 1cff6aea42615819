// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package intake is the HTTP admission layer: it authenticates tenants,
// bounds and validates payloads, applies the rate and quota limiters,
// and hands accepted events to the durable queue. Events are never
// processed inline; a 200 means "queued", not "stored".
package intake

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/trackhouse/trackhouse/internal/config"
	"github.com/trackhouse/trackhouse/internal/database"
	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
	"github.com/trackhouse/trackhouse/internal/queue"
	"github.com/trackhouse/trackhouse/internal/ratelimit"
)

// maxFutureSkew bounds how far ahead of server time a client-supplied
// timestamp may be before it is replaced with the receive time.
const maxFutureSkew = 5 * time.Minute

// EventPublisher hands an accepted event to the durable queue.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.TrackedEvent) error
}

// StatsSource is the subset of the database the ops endpoints need.
type StatsSource interface {
	Stats(ctx context.Context) ([]database.ProjectStats, error)
	Ping(ctx context.Context) error
}

// DepthSource reports the pending backlog in the durable queue.
type DepthSource interface {
	Depth(ctx context.Context) (uint64, error)
}

// Handler implements the intake endpoints.
type Handler struct {
	cfg       config.IntakeConfig
	publisher EventPublisher
	db        StatsSource
	depth     DepthSource        // queue backlog for the stats endpoint, nil when unavailable
	burst     *ratelimit.Limiter // short-window rate limiter, nil when disabled
	quota     *ratelimit.Limiter // long-window quota limiter, nil when disabled
	importer  *rate.Limiter      // historical import throttle, nil when disabled
	validate  *validator.Validate
}

// NewHandler wires the intake endpoints.
func NewHandler(cfg config.IntakeConfig, publisher EventPublisher, db StatsSource, depth DepthSource, burst, quota *ratelimit.Limiter) *Handler {
	h := &Handler{
		cfg:       cfg,
		publisher: publisher,
		db:        db,
		depth:     depth,
		burst:     burst,
		quota:     quota,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
	if cfg.ImportEventsPerSecond > 0 {
		b := cfg.ImportBurst
		if b < 1 {
			b = int(cfg.ImportEventsPerSecond)
		}
		if b < 1 {
			b = 1
		}
		h.importer = rate.NewLimiter(rate.Limit(cfg.ImportEventsPerSecond), b)
	}
	return h
}

// eventPayload is the wire shape of one submitted event.
type eventPayload struct {
	Event          string         `json:"event" validate:"required,max=200"`
	DistinctID     string         `json:"distinct_id" validate:"required,max=200"`
	AnonymousID    string         `json:"anonymous_id" validate:"omitempty,max=200"`
	Timestamp      *time.Time     `json:"timestamp"`
	Properties     map[string]any `json:"properties" validate:"omitempty,max=512"`
	UserProperties map[string]any `json:"user_properties" validate:"omitempty,max=512"`
}

type batchPayload struct {
	Events []eventPayload `json:"events" validate:"required,min=1,dive"`
}

func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var p eventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.RecordDrop(metrics.DropReasonMalformed)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	projectID := ProjectID(r.Context())
	if !h.admit(r.Context(), w, projectID, 1) {
		return
	}

	// Past admission the request counts as received, even when shape
	// validation drops it below: the drop is tracked separately.
	metrics.EventsReceived.Add(1)

	if err := h.validate.Struct(&p); err != nil {
		metrics.RecordDrop(metrics.DropReasonShape)
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if !h.enqueue(r.Context(), w, []*models.TrackedEvent{h.toEvent(projectID, p, r)}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}

	projectID := ProjectID(r.Context())
	if !h.admit(r.Context(), w, projectID, len(p.Events)) {
		return
	}
	metrics.EventsReceived.Add(float64(len(p.Events)))

	if !h.validateBatch(w, &p) {
		return
	}
	if !h.publishBatch(r.Context(), w, projectID, p.Events, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(p.Events)})
}

// handleImport accepts historical backfills. Imports bypass the tenant
// limiters and are paced by a token bucket instead, so a backfill can run
// at a steady rate without burning the project's live-traffic quota.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		writeError(w, http.StatusForbidden, "historical import is disabled")
		return
	}

	p, ok := h.decodeBatch(w, r)
	if !ok {
		return
	}
	if len(p.Events) > h.importer.Burst() {
		writeError(w, http.StatusRequestEntityTooLarge, "import batch exceeds throttle burst")
		return
	}
	if err := h.importer.WaitN(r.Context(), len(p.Events)); err != nil {
		writeError(w, http.StatusServiceUnavailable, "import throttled, retry later")
		return
	}
	metrics.EventsReceived.Add(float64(len(p.Events)))

	if !h.validateBatch(w, &p) {
		return
	}
	projectID := ProjectID(r.Context())
	if !h.publishBatch(r.Context(), w, projectID, p.Events, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(p.Events)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load project stats")
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	var totalEvents, totalPersons int64
	for _, s := range stats {
		totalEvents += s.Events
		totalPersons += s.Persons
	}
	resp := map[string]any{
		"projects": stats,
		"totals":   map[string]int64{"events": totalEvents, "persons": totalPersons},
	}
	if h.depth != nil {
		if depth, err := h.depth.Depth(r.Context()); err != nil {
			logging.Warn().Err(err).Msg("Failed to read queue depth for stats")
		} else {
			resp["queue_depth"] = depth
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBatch reads and decodes a batch request body, applying the batch
// size cap. Shape validation happens separately, after limiter admission.
func (h *Handler) decodeBatch(w http.ResponseWriter, r *http.Request) (batchPayload, bool) {
	var p batchPayload

	body, ok := h.readBody(w, r)
	if !ok {
		return p, false
	}
	if err := json.Unmarshal(body, &p); err != nil {
		metrics.RecordDrop(metrics.DropReasonMalformed)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return p, false
	}
	if len(p.Events) > h.cfg.MaxBatchEvents {
		metrics.RecordDrop(metrics.DropReasonOversized)
		writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds event limit")
		return p, false
	}
	return p, true
}

// validateBatch runs shape validation over a decoded batch.
func (h *Handler) validateBatch(w http.ResponseWriter, p *batchPayload) bool {
	if err := h.validate.Struct(p); err != nil {
		metrics.RecordDrop(metrics.DropReasonShape)
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return false
	}
	return true
}

// readBody reads the (possibly inflated) request body up to the
// configured cap. The cap applies to the decompressed size, so a
// compressed bomb cannot sneak past a Content-Length check.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		// A gzip stream with a valid header but corrupt payload fails here.
		metrics.RecordDrop(metrics.DropReasonMalformed)
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		metrics.RecordDrop(metrics.DropReasonOversized)
		writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds limit")
		return nil, false
	}
	return body, true
}

// admit charges n hits against both tenant limiters. The burst limiter
// runs first; a rejection from either writes the 429 and Retry-After.
func (h *Handler) admit(ctx context.Context, w http.ResponseWriter, projectID string, n int) bool {
	for i := 0; i < n; i++ {
		if h.burst != nil {
			if d := h.burst.Check(ctx, projectID); !d.Allowed {
				metrics.RateLimited.Inc()
				writeRetryAfter(w, d.RetryAfter)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return false
			}
		}
		if h.quota != nil {
			if d := h.quota.Check(ctx, projectID); !d.Allowed {
				metrics.QuotaLimited.Inc()
				writeRetryAfter(w, d.RetryAfter)
				writeError(w, http.StatusTooManyRequests, "event quota exceeded")
				return false
			}
		}
	}
	return true
}

func (h *Handler) publishBatch(ctx context.Context, w http.ResponseWriter, projectID string, payloads []eventPayload, r *http.Request) bool {
	events := make([]*models.TrackedEvent, 0, len(payloads))
	for _, p := range payloads {
		events = append(events, h.toEvent(projectID, p, r))
	}
	return h.enqueue(ctx, w, events)
}

// enqueue publishes accepted events. A queue failure mid-batch returns
// an error for the whole request; events already published are absorbed
// by the stream's duplicate window when the client retries.
func (h *Handler) enqueue(ctx context.Context, w http.ResponseWriter, events []*models.TrackedEvent) bool {
	for _, ev := range events {
		if err := h.publisher.PublishEvent(ctx, ev); err != nil {
			if errors.Is(err, queue.ErrQueueUnavailable) {
				metrics.BackpressureRejected.Inc()
				writeError(w, http.StatusServiceUnavailable, "event queue unavailable, retry later")
				return false
			}
			logging.Error().Str("event_id", ev.EventID).Err(err).Msg("Failed to enqueue event")
			writeError(w, http.StatusInternalServerError, "failed to enqueue event")
			return false
		}
	}
	return true
}

// toEvent converts a validated payload into the canonical event, stamping
// request context for downstream enrichment.
func (h *Handler) toEvent(projectID string, p eventPayload, r *http.Request) *models.TrackedEvent {
	ev := models.NewTrackedEvent(projectID, p.Event)
	ev.DistinctID = p.DistinctID
	ev.AnonymousID = p.AnonymousID
	ev.Properties = p.Properties
	ev.UserProperties = p.UserProperties

	// Client clocks drift. Honor the client timestamp unless it claims to
	// be from the future beyond tolerance, in which case the receive time
	// stands.
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		if ts := p.Timestamp.UTC(); ts.Before(ev.Timestamp.Add(maxFutureSkew)) {
			ev.Timestamp = ts
		}
	}

	ev.Context = models.EventContext{
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
		SDKName:    r.Header.Get("X-SDK-Name"),
		SDKVersion: r.Header.Get("X-SDK-Version"),
	}
	return ev
}

// clientIP returns the request's client address without the port. The
// RealIP middleware has already resolved proxy headers upstream.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
