// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package database

import (
	"context"
	"fmt"

	"github.com/trackhouse/trackhouse/internal/models"
)

// UpsertPropertyDefinitions records inferred property types. The first
// inference for a (project, event, property) triple wins; later events with
// conflicting value shapes do not flip an established type.
func (db *DB) UpsertPropertyDefinitions(ctx context.Context, defs []models.PropertyDefinition) error {
	if len(defs) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin property definition transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO property_definitions (project_id, event_name, property_name, inferred_type)
		 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare property definition insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range defs {
		if _, err := stmt.ExecContext(ctx, d.ProjectID, d.EventName, d.PropertyName, string(d.InferredType)); err != nil {
			return fmt.Errorf("failed to upsert property definition %s/%s/%s: %w",
				d.ProjectID, d.EventName, d.PropertyName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit property definitions: %w", err)
	}
	return nil
}

// PropertyDefinitions lists the inferred types for one event name.
func (db *DB) PropertyDefinitions(ctx context.Context, projectID, eventName string) ([]models.PropertyDefinition, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT property_name, inferred_type FROM property_definitions
		 WHERE project_id = ? AND event_name = ? ORDER BY property_name`,
		projectID, eventName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query property definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []models.PropertyDefinition
	for rows.Next() {
		d := models.PropertyDefinition{ProjectID: projectID, EventName: eventName}
		var typ string
		if err := rows.Scan(&d.PropertyName, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan property definition: %w", err)
		}
		d.InferredType = models.PropertyType(typ)
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate property definitions: %w", err)
	}
	return defs, nil
}
