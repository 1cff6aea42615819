// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package database

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/trackhouse/trackhouse/internal/models"
)

// BatchResult reports the outcome of one batch write.
type BatchResult struct {
	Inserted   int
	Duplicates int
}

// InsertEventBatch writes a batch of events in a single transaction. The
// whole batch commits or none of it does, so a redelivered batch after a
// crash replays cleanly: ON CONFLICT DO NOTHING on the event_id primary
// key absorbs rows from the earlier partial attempt.
func (db *DB) InsertEventBatch(ctx context.Context, events []*models.TrackedEvent) (BatchResult, error) {
	var result BatchResult
	if len(events) == 0 {
		return result, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `INSERT INTO events (
		event_id, project_id, event_name, event_timestamp,
		distinct_id, anonymous_id, person_id,
		properties, user_properties,
		ip, user_agent, sdk_name, sdk_version,
		geo_country, geo_region, geo_city
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return result, fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		props, err := json.Marshal(ev.Properties)
		if err != nil {
			return result, fmt.Errorf("failed to marshal properties for event %s: %w", ev.EventID, err)
		}
		userProps, err := json.Marshal(ev.UserProperties)
		if err != nil {
			return result, fmt.Errorf("failed to marshal user properties for event %s: %w", ev.EventID, err)
		}

		res, err := stmt.ExecContext(ctx,
			ev.EventID, ev.ProjectID, ev.EventName, ev.Timestamp.UTC(),
			ev.DistinctID, ev.AnonymousID, ev.PersonID,
			string(props), string(userProps),
			ev.Context.IP, ev.Context.UserAgent, ev.Context.SDKName, ev.Context.SDKVersion,
			ev.Geo.Country, ev.Geo.Region, ev.Geo.City,
		)
		if err != nil {
			return result, fmt.Errorf("failed to insert event %s: %w", ev.EventID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected > 0 {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	return result, nil
}

// EventCount returns the number of stored events for a project, or across
// all projects when projectID is empty.
func (db *DB) EventCount(ctx context.Context, projectID string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	var err error
	if projectID == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE project_id = ?`, projectID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
