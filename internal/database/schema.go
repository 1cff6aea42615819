// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package database

import (
	"context"
	"fmt"
)

// createTables creates the schema if it does not exist. Properties are
// stored as JSON text; DuckDB can query into them when analytical reads
// need individual keys, and the pipeline never needs them decomposed.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id        VARCHAR PRIMARY KEY,
			project_id      VARCHAR NOT NULL,
			event_name      VARCHAR NOT NULL,
			event_timestamp TIMESTAMP NOT NULL,
			distinct_id     VARCHAR NOT NULL,
			anonymous_id    VARCHAR,
			person_id       VARCHAR,
			properties      VARCHAR,
			user_properties VARCHAR,
			ip              VARCHAR,
			user_agent      VARCHAR,
			sdk_name        VARCHAR,
			sdk_version     VARCHAR,
			geo_country     VARCHAR,
			geo_region      VARCHAR,
			geo_city        VARCHAR,
			created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS persons (
			id         VARCHAR PRIMARY KEY,
			project_id VARCHAR NOT NULL,
			properties VARCHAR,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS person_distinct_ids (
			project_id  VARCHAR NOT NULL,
			distinct_id VARCHAR NOT NULL,
			person_id   VARCHAR NOT NULL,
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (project_id, distinct_id)
		)`,
		`CREATE TABLE IF NOT EXISTS property_definitions (
			project_id    VARCHAR NOT NULL,
			event_name    VARCHAR NOT NULL,
			property_name VARCHAR NOT NULL,
			inferred_type VARCHAR NOT NULL,
			first_seen    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (project_id, event_name, property_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project_time ON events (project_id, event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_person ON events (project_id, person_id)`,
		`CREATE INDEX IF NOT EXISTS idx_distinct_ids_person ON person_distinct_ids (person_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}
