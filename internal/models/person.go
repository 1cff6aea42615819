// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package models

import "time"

// Person is a durable identity merged from one or more distinct IDs.
// A merge (from -> into) must be applied exactly once at a time per pair;
// callers serialize merges with a distributed lock scoped to the target.
type Person struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Properties  map[string]any `json:"properties,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DistinctIDs []string       `json:"distinct_ids,omitempty"`
}

// MergeProperties folds the other person's properties into this one.
// Existing values win: the surviving person keeps what it already has and
// only absorbs keys it is missing, so re-running a merge is a no-op.
func (p *Person) MergeProperties(other map[string]any) {
	if len(other) == 0 {
		return
	}
	if p.Properties == nil {
		p.Properties = make(map[string]any, len(other))
	}
	for k, v := range other {
		if _, ok := p.Properties[k]; !ok {
			p.Properties[k] = v
		}
	}
}
