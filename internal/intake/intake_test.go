// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package intake

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/trackhouse/trackhouse/internal/config"
	"github.com/trackhouse/trackhouse/internal/database"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
	"github.com/trackhouse/trackhouse/internal/queue"
	"github.com/trackhouse/trackhouse/internal/ratelimit"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.TrackedEvent
	err    error
}

func (p *fakePublisher) PublishEvent(_ context.Context, ev *models.TrackedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) published() []*models.TrackedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.TrackedEvent(nil), p.events...)
}

type fakeDB struct {
	stats   []database.ProjectStats
	pingErr error
}

func (d *fakeDB) Stats(context.Context) ([]database.ProjectStats, error) { return d.stats, nil }
func (d *fakeDB) Ping(context.Context) error                            { return d.pingErr }

type fakeDepth struct {
	depth uint64
	err   error
}

func (d *fakeDepth) Depth(context.Context) (uint64, error) { return d.depth, d.err }

type routerOptions struct {
	intake  config.IntakeConfig
	pub     EventPublisher
	db      StatsSource
	depth   DepthSource
	burst   *ratelimit.Limiter
	quota   *ratelimit.Limiter
	origins []string
}

func defaultIntakeConfig() config.IntakeConfig {
	return config.IntakeConfig{
		MaxBodyBytes:          1 << 20,
		MaxBatchEvents:        10,
		ImportEventsPerSecond: 1000,
		ImportBurst:           10,
	}
}

func newTestRouter(t *testing.T, opts routerOptions) http.Handler {
	t.Helper()
	if opts.pub == nil {
		opts.pub = &fakePublisher{}
	}
	if opts.db == nil {
		opts.db = &fakeDB{}
	}
	if opts.intake.MaxBodyBytes == 0 {
		opts.intake = defaultIntakeConfig()
	}
	h := NewHandler(opts.intake, opts.pub, opts.db, opts.depth, opts.burst, opts.quota)
	keyring := NewKeyring([]config.ProjectConfig{
		{ID: "proj_1", Name: "Web", APIKey: "key-1"},
		{ID: "proj_2", Name: "Mobile", APIKey: "key-2"},
	})
	return NewRouter(h, keyring, opts.origins)
}

func newLimiter(t *testing.T, prefix string, limit int64) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{
		KeyPrefix:     prefix,
		Window:        time.Minute,
		Limit:         limit,
		BlockDuration: time.Minute,
	})
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}
	return l
}

func doRequest(router http.Handler, method, path, apiKey string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.9:51234"
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func trackBody(t *testing.T, event, distinctID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":       event,
		"distinct_id": distinctID,
		"properties":  map[string]any{"plan": "pro"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestTrack_AcceptsAndPublishes(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})

	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	events := pub.published()
	if len(events) != 1 {
		t.Fatalf("published %d events; want 1", len(events))
	}
	ev := events[0]
	if ev.ProjectID != "proj_1" {
		t.Errorf("project = %q; want proj_1 (resolved from API key)", ev.ProjectID)
	}
	if ev.DistinctID != "user-1" || ev.EventName != "signup" {
		t.Errorf("event = %q/%q", ev.EventName, ev.DistinctID)
	}
	if ev.EventID == "" {
		t.Error("event id not assigned")
	}
	if ev.Context.IP != "203.0.113.9" {
		t.Errorf("client ip = %q", ev.Context.IP)
	}
	if time.Since(ev.Timestamp) > time.Minute {
		t.Errorf("timestamp not stamped at receive time: %v", ev.Timestamp)
	}
}

func TestTrack_Authentication(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})
	body := trackBody(t, "signup", "user-1")

	tests := []struct {
		name   string
		apiKey string
	}{
		{"missing key", ""},
		{"unknown key", "key-nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/v1/track", tt.apiKey, body, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d; want 401", rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("error body: %v", err)
			}
			if resp.StatusCode != http.StatusUnauthorized || resp.Message == "" {
				t.Errorf("error body = %+v", resp)
			}
		})
	}
	if len(pub.published()) != 0 {
		t.Error("unauthenticated requests must not publish")
	}
}

func TestTrack_KeyResolvesTenant(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})

	doRequest(router, http.MethodPost, "/v1/track", "key-2", trackBody(t, "signup", "user-1"), nil)
	events := pub.published()
	if len(events) != 1 || events[0].ProjectID != "proj_2" {
		t.Fatalf("events = %+v; want one event under proj_2", events)
	}
}

func TestTrack_RejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("{nope")},
		{"missing distinct_id", []byte(`{"event":"signup"}`)},
		{"missing event", []byte(`{"distinct_id":"u1"}`)},
		{"wrong shape", []byte(`[1,2,3]`)},
	}
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d; want 400", rec.Code)
			}
		})
	}
	if len(pub.published()) != 0 {
		t.Error("rejected payloads must not publish")
	}
}

func TestTrack_ShapeFailureChargesLimiterAndCountsReceived(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub, burst: newLimiter(t, "rate", 1)})

	received := testutil.ToFloat64(metrics.EventsReceived)
	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", []byte(`{"event":"signup"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.EventsReceived) - received; got != 1 {
		t.Errorf("received counter advanced by %v; want 1 for an admitted request", got)
	}

	// The window is spent: a well-formed follow-up is rate limited.
	rec = doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429 after the shape-failed request consumed the window", rec.Code)
	}
	if len(pub.published()) != 0 {
		t.Error("nothing should publish")
	}
}

func TestTrack_MalformedBodySkipsAdmission(t *testing.T) {
	router := newTestRouter(t, routerOptions{burst: newLimiter(t, "rate", 1)})

	received := testutil.ToFloat64(metrics.EventsReceived)
	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", []byte("{nope"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.EventsReceived) - received; got != 0 {
		t.Errorf("received counter advanced by %v for an unparseable body", got)
	}

	// The limiter was not charged: the window is still open.
	rec = doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rec.Code)
	}
}

func TestTrack_GzipBody(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})

	t.Run("valid gzip accepted", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(trackBody(t, "signup", "user-1")); err != nil {
			t.Fatalf("gzip write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
		rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", buf.Bytes(),
			map[string]string{"Content-Encoding": "gzip"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if len(pub.published()) != 1 {
			t.Error("decompressed event not published")
		}
	})

	t.Run("corrupt gzip rejected", func(t *testing.T) {
		rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", []byte("definitely not gzip"),
			map[string]string{"Content-Encoding": "gzip"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
	})

	t.Run("corrupt gzip rejected before auth", func(t *testing.T) {
		// Decompression precedes tenant resolution: an undecompressable
		// body is a 400 even with a bad key.
		rec := doRequest(router, http.MethodPost, "/v1/track", "key-nope", []byte("definitely not gzip"),
			map[string]string{"Content-Encoding": "gzip"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d; want 400", rec.Code)
		}
	})
}

func TestTrack_OversizedBody(t *testing.T) {
	cfg := defaultIntakeConfig()
	cfg.MaxBodyBytes = 64
	router := newTestRouter(t, routerOptions{intake: cfg})

	big, err := json.Marshal(map[string]any{
		"event":       "signup",
		"distinct_id": "user-1",
		"properties":  map[string]any{"blob": bytes.Repeat([]byte("x"), 256)},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", big, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d; want 413", rec.Code)
	}
}

func TestTrack_BurstLimiting(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub, burst: newLimiter(t, "rate", 20)})
	body := trackBody(t, "pageview", "user-1")

	accepted, rejected := 0, 0
	for i := 0; i < 25; i++ {
		rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", body, nil)
		switch rec.Code {
		case http.StatusOK:
			accepted++
		case http.StatusTooManyRequests:
			rejected++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
		default:
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	if accepted != 20 || rejected != 5 {
		t.Errorf("accepted/rejected = %d/%d; want 20/5", accepted, rejected)
	}
	if len(pub.published()) != 20 {
		t.Errorf("published %d events; want 20", len(pub.published()))
	}
}

func TestTrack_QuotaLimiting(t *testing.T) {
	router := newTestRouter(t, routerOptions{
		burst: newLimiter(t, "rate", 100),
		quota: newLimiter(t, "quota", 2),
	})
	body := trackBody(t, "pageview", "user-1")

	for i := 0; i < 2; i++ {
		if rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", body, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429 once quota is spent", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if resp.Message != "event quota exceeded" {
		t.Errorf("message = %q; want quota rejection, not burst", resp.Message)
	}
}

func TestLimiting_IsPerTenant(t *testing.T) {
	router := newTestRouter(t, routerOptions{burst: newLimiter(t, "rate", 1)})
	body := trackBody(t, "pageview", "user-1")

	if rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("proj_1 first request status = %d", rec.Code)
	}
	if rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("proj_1 second request status = %d; want 429", rec.Code)
	}
	// proj_2 has its own window.
	if rec := doRequest(router, http.MethodPost, "/v1/track", "key-2", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("proj_2 status = %d; want 200", rec.Code)
	}
}

func batchBody(t *testing.T, n int) []byte {
	t.Helper()
	events := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, map[string]any{
			"event":       "pageview",
			"distinct_id": fmt.Sprintf("user-%d", i),
		})
	}
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestBatch_PublishesAll(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})

	rec := doRequest(router, http.MethodPost, "/v1/batch", "key-1", batchBody(t, 3), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	events := pub.published()
	if len(events) != 3 {
		t.Fatalf("published %d events; want 3", len(events))
	}
	seen := map[string]struct{}{}
	for _, ev := range events {
		if ev.ProjectID != "proj_1" {
			t.Errorf("project = %q", ev.ProjectID)
		}
		if _, dup := seen[ev.EventID]; dup {
			t.Errorf("duplicate event id %q in batch", ev.EventID)
		}
		seen[ev.EventID] = struct{}{}
	}
}

func TestBatch_CapsEventCount(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub})

	rec := doRequest(router, http.MethodPost, "/v1/batch", "key-1", batchBody(t, 11), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d; want 413", rec.Code)
	}
	if len(pub.published()) != 0 {
		t.Error("oversized batch must not publish")
	}
}

func TestBatch_ChargesLimiterPerEvent(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub, burst: newLimiter(t, "rate", 5)})

	rec := doRequest(router, http.MethodPost, "/v1/batch", "key-1", batchBody(t, 6), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429 for a batch over the window", rec.Code)
	}
	if len(pub.published()) != 0 {
		t.Error("rejected batch must not publish")
	}
}

func TestBatch_ShapeFailureChargesLimiterPerEvent(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub, burst: newLimiter(t, "rate", 2)})

	body, err := json.Marshal(map[string]any{"events": []map[string]any{
		{"event": "pageview", "distinct_id": "user-1"},
		{"event": "pageview"}, // missing distinct_id
	}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec := doRequest(router, http.MethodPost, "/v1/batch", "key-1", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want 400", rec.Code)
	}
	if len(pub.published()) != 0 {
		t.Error("shape-failed batch must not publish")
	}

	// Both events of the rejected batch consumed the window.
	rec = doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429", rec.Code)
	}
}

func TestBackpressure_QueueUnavailable(t *testing.T) {
	pub := &fakePublisher{err: fmt.Errorf("publish: %w", queue.ErrQueueUnavailable)}
	router := newTestRouter(t, routerOptions{pub: pub})

	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", rec.Code)
	}
}

func TestBackpressure_OtherPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("marshal exploded")}
	router := newTestRouter(t, routerOptions{pub: pub})

	rec := doRequest(router, http.MethodPost, "/v1/track", "key-1", trackBody(t, "signup", "user-1"), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
}

func TestImport_DisabledByConfig(t *testing.T) {
	cfg := defaultIntakeConfig()
	cfg.ImportEventsPerSecond = 0
	router := newTestRouter(t, routerOptions{intake: cfg})

	rec := doRequest(router, http.MethodPost, "/v1/import", "key-1", batchBody(t, 2), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d; want 403", rec.Code)
	}
}

func TestImport_BypassesTenantLimiters(t *testing.T) {
	pub := &fakePublisher{}
	router := newTestRouter(t, routerOptions{pub: pub, burst: newLimiter(t, "rate", 1)})

	rec := doRequest(router, http.MethodPost, "/v1/import", "key-1", batchBody(t, 3), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(pub.published()) != 3 {
		t.Errorf("published %d events; want 3", len(pub.published()))
	}
}

func TestImport_RejectsBatchOverBurst(t *testing.T) {
	cfg := defaultIntakeConfig()
	cfg.ImportBurst = 2
	router := newTestRouter(t, routerOptions{intake: cfg})

	rec := doRequest(router, http.MethodPost, "/v1/import", "key-1", batchBody(t, 3), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d; want 413", rec.Code)
	}
}

func TestTimestamps(t *testing.T) {
	payload := func(t *testing.T, ts time.Time) []byte {
		t.Helper()
		body, err := json.Marshal(map[string]any{
			"event":       "signup",
			"distinct_id": "user-1",
			"timestamp":   ts.Format(time.RFC3339Nano),
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return body
	}

	t.Run("past timestamp honored", func(t *testing.T) {
		pub := &fakePublisher{}
		router := newTestRouter(t, routerOptions{pub: pub})
		past := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)

		doRequest(router, http.MethodPost, "/v1/track", "key-1", payload(t, past), nil)
		events := pub.published()
		if len(events) != 1 || !events[0].Timestamp.Equal(past) {
			t.Fatalf("timestamp = %v; want %v", events[0].Timestamp, past)
		}
	})

	t.Run("far-future timestamp replaced", func(t *testing.T) {
		pub := &fakePublisher{}
		router := newTestRouter(t, routerOptions{pub: pub})

		doRequest(router, http.MethodPost, "/v1/track", "key-1", payload(t, time.Now().Add(24*time.Hour)), nil)
		events := pub.published()
		if len(events) != 1 {
			t.Fatalf("published %d events", len(events))
		}
		if time.Until(events[0].Timestamp) > maxFutureSkew {
			t.Errorf("future timestamp survived: %v", events[0].Timestamp)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("live always ok", func(t *testing.T) {
		router := newTestRouter(t, routerOptions{})
		rec := doRequest(router, http.MethodGet, "/api/v1/health/live", "", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("ready reflects database", func(t *testing.T) {
		router := newTestRouter(t, routerOptions{db: &fakeDB{pingErr: errors.New("db locked")}})
		rec := doRequest(router, http.MethodGet, "/api/v1/health/ready", "", nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d; want 503", rec.Code)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	db := &fakeDB{stats: []database.ProjectStats{
		{ProjectID: "proj_1", Events: 42, Persons: 7},
		{ProjectID: "proj_2", Events: 8, Persons: 3},
	}}
	router := newTestRouter(t, routerOptions{db: db, depth: &fakeDepth{depth: 5}})

	rec := doRequest(router, http.MethodGet, "/api/v1/stats", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Projects   []database.ProjectStats `json:"projects"`
		QueueDepth uint64                  `json:"queue_depth"`
		Totals     struct {
			Events  int64 `json:"events"`
			Persons int64 `json:"persons"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Projects) != 2 || resp.Projects[0].Events != 42 {
		t.Errorf("stats = %+v", resp.Projects)
	}
	if resp.QueueDepth != 5 {
		t.Errorf("queue depth = %d; want 5", resp.QueueDepth)
	}
	if resp.Totals.Events != 50 || resp.Totals.Persons != 10 {
		t.Errorf("totals = %+v", resp.Totals)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := newTestRouter(t, routerOptions{})
	rec := doRequest(router, http.MethodGet, "/metrics", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("events_received_total")) {
		t.Error("intake counters not exposed")
	}
}
