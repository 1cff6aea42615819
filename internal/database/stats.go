// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package database

import (
	"context"
	"fmt"
	"time"
)

// ProjectStats summarizes one project's stored data.
type ProjectStats struct {
	ProjectID   string     `json:"project_id"`
	Events      int64      `json:"events"`
	Persons     int64      `json:"persons"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// Stats returns per-project ingest statistics, ordered by project ID.
func (db *DB) Stats(ctx context.Context) ([]ProjectStats, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT
			e.project_id,
			COUNT(*) AS events,
			COALESCE(p.persons, 0) AS persons,
			MAX(e.event_timestamp) AS last_event_at
		FROM events e
		LEFT JOIN (
			SELECT project_id, COUNT(*) AS persons FROM persons GROUP BY project_id
		) p ON p.project_id = e.project_id
		GROUP BY e.project_id, p.persons
		ORDER BY e.project_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ProjectStats
	for rows.Next() {
		var s ProjectStats
		var last *time.Time
		if err := rows.Scan(&s.ProjectID, &s.Events, &s.Persons, &last); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		s.LastEventAt = last
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stats: %w", err)
	}
	return stats, nil
}
