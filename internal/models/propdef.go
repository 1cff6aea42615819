// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package models

// PropertyType is the semantic type inferred for a property value.
type PropertyType string

const (
	PropertyTypeString   PropertyType = "String"
	PropertyTypeNumeric  PropertyType = "Numeric"
	PropertyTypeBoolean  PropertyType = "Boolean"
	PropertyTypeDateTime PropertyType = "DateTime"
)

// PropertyDefinition records the inferred type of an observed property.
// Derived, not authoritative: recomputed opportunistically as events are
// seen and never blocks ingestion.
type PropertyDefinition struct {
	ProjectID    string       `json:"project_id"`
	EventName    string       `json:"event_name,omitempty"`
	PropertyName string       `json:"property_name"`
	InferredType PropertyType `json:"inferred_type"`
}
