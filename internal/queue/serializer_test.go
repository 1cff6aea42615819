// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package queue

import (
	"testing"
	"time"

	"github.com/trackhouse/trackhouse/internal/models"
)

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()

	ev := models.NewTrackedEvent("proj_1", "checkout")
	ev.DistinctID = "user-1"
	ev.AnonymousID = "anon-1"
	ev.Timestamp = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ev.Properties = map[string]any{"total": 49.99, "currency": "EUR"}

	data, err := s.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := s.Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.EventID != ev.EventID || got.ProjectID != "proj_1" || got.DistinctID != "user-1" {
		t.Errorf("round trip lost identity fields: %+v", got)
	}
	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp = %v; want %v", got.Timestamp, ev.Timestamp)
	}
	if got.Properties["currency"] != "EUR" {
		t.Errorf("properties lost: %+v", got.Properties)
	}
	if got.SchemaVersion != models.SchemaVersion {
		t.Errorf("schema version = %d", got.SchemaVersion)
	}
}

func TestSerializer_PoisonPayloads(t *testing.T) {
	s := NewSerializer()

	cases := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("not json at all")},
		{"wrong shape", []byte(`[1,2,3]`)},
		{"missing required fields", []byte(`{"event_name":"x"}`)},
		{"empty", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Unmarshal(tc.payload); err == nil {
				t.Error("expected error for poison payload")
			}
		})
	}
}

func TestSerializer_NilEvent(t *testing.T) {
	if _, err := NewSerializer().Marshal(nil); err == nil {
		t.Error("expected error for nil event")
	}
}
