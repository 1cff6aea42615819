// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package models defines the canonical data types flowing through the
// pipeline: tracked events, persons, and derived property definitions.
package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to TrackedEvent.
const SchemaVersion = 1

// EventContext carries request-derived metadata captured at intake.
type EventContext struct {
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	SDKName    string `json:"sdk_name,omitempty"`
	SDKVersion string `json:"sdk_version,omitempty"`
}

// GeoLocation holds the geo enrichment result. Fields resolve independently;
// a partially filled location is valid.
type GeoLocation struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// TrackedEvent is the canonical event format used across the pipeline.
// It is created by intake, enriched by the processing consumer (geo fields,
// inferred property types), and written once to the columnar store. It is
// never mutated after a successful write.
type TrackedEvent struct {
	// Schema version for forward/backward compatibility
	SchemaVersion int `json:"schema_version,omitempty"`

	// Identification
	EventID   string    `json:"event_id"`
	ProjectID string    `json:"project_id"`
	EventName string    `json:"event_name"`
	Timestamp time.Time `json:"timestamp"`

	// Identity
	DistinctID  string `json:"distinct_id"`
	AnonymousID string `json:"anonymous_id,omitempty"`

	// PersonID is the resolved canonical person, set by the processing
	// consumer before the event reaches the store.
	PersonID string `json:"person_id,omitempty"`

	// Payload
	Properties     map[string]any `json:"properties,omitempty"`
	UserProperties map[string]any `json:"user_properties,omitempty"`
	Context        EventContext   `json:"context"`

	// Enrichment (set by the processing consumer)
	Geo GeoLocation `json:"geo,omitempty"`

	// Raw payload for debugging and future fields
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// NewTrackedEvent creates an event with a unique ID, timestamp, and schema
// version for the given project.
func NewTrackedEvent(projectID, eventName string) *TrackedEvent {
	return &TrackedEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		ProjectID:     projectID,
		EventName:     eventName,
		Timestamp:     time.Now().UTC(),
	}
}

// Validate checks required fields and returns an error if validation fails.
func (e *TrackedEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.ProjectID == "" {
		return &ValidationError{Field: "project_id", Message: "required"}
	}
	if e.EventName == "" {
		return &ValidationError{Field: "event_name", Message: "required"}
	}
	if e.DistinctID == "" {
		return &ValidationError{Field: "distinct_id", Message: "required"}
	}
	return nil
}

// Subject returns the queue subject for this event.
// Format: events.<project_id>
func (e *TrackedEvent) Subject() string {
	return "events." + e.ProjectID
}

// IsIdentify reports whether this event carries an identity merge request,
// i.e. an $identify event naming both an anonymous and a canonical identity.
func (e *TrackedEvent) IsIdentify() bool {
	return e.EventName == EventNameIdentify && e.AnonymousID != "" && e.AnonymousID != e.DistinctID
}

// EnsureSchemaVersion sets the schema version if not already set.
func (e *TrackedEvent) EnsureSchemaVersion() {
	if e.SchemaVersion == 0 {
		e.SchemaVersion = SchemaVersion
	}
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Reserved event names.
const (
	// EventNameIdentify links an anonymous identity to a canonical one.
	EventNameIdentify = "$identify"
	// EventNamePageview is the standard pageview event.
	EventNamePageview = "$pageview"
)
